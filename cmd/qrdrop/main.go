package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/qrdrop/internal/client"
	"github.com/dharsanguruparan/qrdrop/internal/config"
	"github.com/dharsanguruparan/qrdrop/internal/vault"
)

// Vault scopes.
const (
	scopeBucket   = "bucket"
	scopeRedirect = "redirect"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand(os.Stdout)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "qrdrop: %v\n", err)
		os.Exit(1)
	}
}

// app carries what every subcommand needs once flags are parsed.
type app struct {
	serverURL string
	vaultPath string
	out       io.Writer

	client *client.Client
	vault  *vault.Vault
}

func newRootCommand(out io.Writer) *cobra.Command {
	a := &app{out: out}
	cmd := &cobra.Command{
		Use:   "qrdrop",
		Short: "QRDrop client",
		Long: `qrdrop creates QR buckets and dynamic redirects on a QRDrop server and keeps
their owner tokens in a local encrypted vault so later commands can manage them.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}
	cmd.PersistentFlags().StringVarP(&a.serverURL, "server", "s", config.LoadCLI().ServerURL, "QRDrop server base URL")
	cmd.PersistentFlags().StringVar(&a.vaultPath, "vault", "", "Vault file (default: user config dir)")
	cmd.AddCommand(
		newBucketCmd(a),
		newRedirectCmd(a),
		newTokenCmd(a),
	)
	return cmd
}

func (a *app) init() error {
	path := a.vaultPath
	if path == "" {
		p, err := vault.DefaultPath()
		if err != nil {
			return fmt.Errorf("locate vault: %w", err)
		}
		path = p
	}
	a.vault = vault.New(vault.NewFileStorage(path))
	a.client = client.New(a.serverURL, nil)
	return nil
}

// token returns the explicit flag value or the vaulted owner token.
func (a *app) token(scope, code, explicit string) string {
	if explicit != "" {
		return explicit
	}
	token, _ := a.vault.Load(scope, code)
	return token
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTokenCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Inspect vaulted owner tokens",
	}
	show := &cobra.Command{
		Use:   "show (bucket|redirect) CODE",
		Short: "Print the owner token for a resource",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validScope(args[0]); err != nil {
				return err
			}
			token, ok := a.vault.Load(args[0], args[1])
			if !ok {
				return fmt.Errorf("no token stored for %s %s", args[0], args[1])
			}
			fmt.Fprintln(a.out, token)
			return nil
		},
	}
	forget := &cobra.Command{
		Use:   "forget (bucket|redirect) CODE",
		Short: "Remove a vaulted owner token",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validScope(args[0]); err != nil {
				return err
			}
			a.vault.Remove(args[0], args[1])
			return nil
		},
	}
	cmd.AddCommand(show, forget)
	return cmd
}

func validScope(scope string) error {
	if scope != scopeBucket && scope != scopeRedirect {
		return fmt.Errorf("scope must be %s or %s", scopeBucket, scopeRedirect)
	}
	return nil
}
