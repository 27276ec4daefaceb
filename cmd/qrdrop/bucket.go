package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/qrdrop/internal/model"
)

func newBucketCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bucket",
		Short: "Create and use QR buckets",
	}
	cmd.AddCommand(
		newBucketCreateCmd(a),
		newBucketUploadCmd(a),
		newBucketDownloadCmd(a),
		newBucketStatusCmd(a),
		newBucketEmptyCmd(a),
		newBucketDeleteCmd(a),
		newBucketLockCmd(a),
	)
	return cmd
}

func newBucketCreateCmd(a *app) *cobra.Command {
	var mode, password string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a bucket and vault its owner token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			created, err := a.client.CreateBucket(cmd.Context(), model.BucketMode(mode), password)
			if err != nil {
				return err
			}
			a.vault.Save(scopeBucket, created.Code, created.OwnerToken)
			fmt.Fprintf(a.out, "code: %s\nurl:  %s\nmode: %s\n", created.Code, created.URL, created.Bucket.Mode)
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(model.ModeSingleDrop), "single_drop, ping_pong or open")
	cmd.Flags().StringVar(&password, "password", "", "Require this password to read the bucket")
	return cmd
}

func newBucketUploadCmd(a *app) *cobra.Command {
	var text, link, file, token string
	cmd := &cobra.Command{
		Use:   "upload CODE",
		Short: "Fill an empty bucket with a file, text or link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code := args[0]
			owner := a.token(scopeBucket, code, token)
			ctx := cmd.Context()
			var (
				view any
				err  error
			)
			switch {
			case file != "":
				f, openErr := os.Open(file)
				if openErr != nil {
					return openErr
				}
				defer f.Close()
				view, err = a.client.UploadFile(ctx, code, owner, file, f)
			case text != "":
				view, err = a.client.UploadText(ctx, code, owner, text)
			case link != "":
				view, err = a.client.UploadLink(ctx, code, owner, link)
			default:
				return errors.New("one of --file, --text or --link is required")
			}
			if err != nil {
				return err
			}
			return a.printJSON(view)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Path of a file to upload")
	cmd.Flags().StringVar(&text, "text", "", "Text to store")
	cmd.Flags().StringVar(&link, "link", "", "http(s) link to store")
	cmd.Flags().StringVar(&token, "token", "", "Owner token (default: vaulted token)")
	cmd.MarkFlagsMutuallyExclusive("file", "text", "link")
	return cmd
}

func newBucketDownloadCmd(a *app) *cobra.Command {
	var password, output string
	cmd := &cobra.Command{
		Use:   "download CODE",
		Short: "Download bucket content, applying its mode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code := args[0]
			// An explicit password downloads as a visitor would.
			var owner string
			if password == "" {
				owner = a.token(scopeBucket, code, "")
			}
			d, err := a.client.Download(cmd.Context(), code, owner, password)
			if err != nil {
				return err
			}
			if d.Deleted {
				a.vault.Remove(scopeBucket, code)
			}
			if d.Body == nil {
				fmt.Fprintln(a.out, d.Content)
				return nil
			}
			defer d.Body.Close()
			if output == "" {
				output = filepath.Base(d.Filename)
				if output == "." || output == "/" || output == "" {
					output = code
				}
			}
			if output == "-" {
				_, err = io.Copy(a.out, d.Body)
				return err
			}
			f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
			if err != nil {
				return err
			}
			n, err := io.Copy(f, d.Body)
			if closeErr := f.Close(); err == nil {
				err = closeErr
			}
			if err != nil {
				return fmt.Errorf("write %s: %w", output, err)
			}
			fmt.Fprintf(a.out, "saved %s (%d bytes)\n", output, n)
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "Bucket password")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Where to save a file (- for stdout)")
	return cmd
}

func newBucketStatusCmd(a *app) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "status CODE",
		Short: "Show bucket state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code := args[0]
			if password != "" {
				view, err := a.client.UnlockBucket(cmd.Context(), code, password)
				if err != nil {
					return err
				}
				return a.printJSON(view)
			}
			view, err := a.client.BucketStatus(cmd.Context(), code, a.token(scopeBucket, code, ""))
			if err != nil {
				return err
			}
			return a.printJSON(view)
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "Unlock full metadata with the password")
	return cmd
}

func newBucketEmptyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "empty CODE",
		Short: "Drain a full bucket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := a.client.EmptyBucket(cmd.Context(), args[0], a.token(scopeBucket, args[0], ""))
			if err != nil {
				return err
			}
			return a.printJSON(view)
		},
	}
}

func newBucketDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete CODE",
		Short: "Delete a bucket and forget its token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code := args[0]
			if err := a.client.DeleteBucket(cmd.Context(), code, a.token(scopeBucket, code, "")); err != nil {
				return err
			}
			a.vault.Remove(scopeBucket, code)
			fmt.Fprintf(a.out, "deleted %s\n", code)
			return nil
		},
	}
}

func newBucketLockCmd(a *app) *cobra.Command {
	var password string
	var clearPassword bool
	cmd := &cobra.Command{
		Use:   "lock CODE",
		Short: "Set or clear the bucket password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" && !clearPassword {
				return errors.New("--password or --clear is required")
			}
			if clearPassword {
				password = ""
			}
			code := args[0]
			view, err := a.client.SetBucketPassword(cmd.Context(), code, a.token(scopeBucket, code, ""), password)
			if err != nil {
				return err
			}
			return a.printJSON(view)
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "New password")
	cmd.Flags().BoolVar(&clearPassword, "clear", false, "Remove the password")
	cmd.MarkFlagsMutuallyExclusive("password", "clear")
	return cmd
}
