package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/qrdrop/internal/client"
	"github.com/dharsanguruparan/qrdrop/internal/model"
)

func newRedirectCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "redirect",
		Short: "Manage dynamic QR redirects",
	}
	cmd.AddCommand(
		newRedirectCreateCmd(a),
		newRedirectShowCmd(a),
		newRedirectUpdateCmd(a),
		newRedirectDisableCmd(a),
	)
	return cmd
}

func newRedirectCreateCmd(a *app) *cobra.Command {
	var (
		maxScans  int
		expiresIn time.Duration
		mode      string
		routing   string
		password  string
	)
	cmd := &cobra.Command{
		Use:   "create URL",
		Short: "Create a redirect and vault its owner token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := client.CreateRedirectRequest{
				DestinationURL: args[0],
				RoutingMode:    model.RoutingMode(mode),
				Password:       password,
			}
			if cmd.Flags().Changed("max-scans") {
				req.MaxScans = &maxScans
			}
			if expiresIn > 0 {
				at := time.Now().Add(expiresIn).UTC()
				req.ExpiresAt = &at
			}
			if routing != "" {
				cfg, err := parseRouting(routing)
				if err != nil {
					return err
				}
				req.RoutingConfig = cfg
			}
			created, err := a.client.CreateRedirect(cmd.Context(), req)
			if err != nil {
				return err
			}
			a.vault.Save(scopeRedirect, created.Code, created.OwnerToken)
			fmt.Fprintf(a.out, "code: %s\nscan: %s\n", created.Code, created.ScanURL)
			return nil
		},
	}
	cmd.Flags().IntVar(&maxScans, "max-scans", 0, "Deactivate after this many scans")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "Deactivate after this long, e.g. 72h")
	cmd.Flags().StringVar(&mode, "mode", string(model.RoutingSimple), "simple, sequential, device or time")
	cmd.Flags().StringVar(&routing, "routing", "", `Routing config as JSON, e.g. {"urls":["https://a","https://b"]}`)
	cmd.Flags().StringVar(&password, "password", "", "Require this password before redirecting")
	return cmd
}

func parseRouting(raw string) (*model.RoutingConfig, error) {
	var cfg model.RoutingConfig
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse --routing: %w", err)
	}
	return &cfg, nil
}

func newRedirectShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show CODE",
		Short: "Show a redirect; full details need the vaulted token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := a.client.GetRedirect(cmd.Context(), args[0], a.token(scopeRedirect, args[0], ""))
			if err != nil {
				return err
			}
			var out bytes.Buffer
			if err := json.Indent(&out, raw, "", "  "); err != nil {
				return err
			}
			fmt.Fprintln(a.out, out.String())
			return nil
		},
	}
}

func newRedirectUpdateCmd(a *app) *cobra.Command {
	var (
		dest          string
		mode          string
		routing       string
		clearRouting  bool
		maxScans      int
		clearMaxScans bool
		expiresIn     time.Duration
		clearExpiry   bool
		activate      bool
		password      string
		clearPassword bool
	)
	cmd := &cobra.Command{
		Use:   "update CODE",
		Short: "Edit a redirect",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code := args[0]
			flags := cmd.Flags()
			u := client.RedirectUpdate{
				OwnerToken:         a.token(scopeRedirect, code, ""),
				ClearRoutingConfig: clearRouting,
				ClearMaxScans:      clearMaxScans,
				ClearExpiresAt:     clearExpiry,
				ClearPassword:      clearPassword,
			}
			if flags.Changed("url") {
				u.DestinationURL = &dest
			}
			if flags.Changed("mode") {
				u.RoutingMode = &mode
			}
			if routing != "" {
				cfg, err := parseRouting(routing)
				if err != nil {
					return err
				}
				u.RoutingConfig = cfg
			}
			if flags.Changed("max-scans") {
				u.MaxScans = &maxScans
			}
			if expiresIn > 0 {
				at := time.Now().Add(expiresIn).UTC()
				u.ExpiresAt = &at
			}
			if flags.Changed("active") {
				u.IsActive = &activate
			}
			if password != "" {
				u.Password = &password
			}
			view, err := a.client.UpdateRedirect(cmd.Context(), code, u)
			if err != nil {
				return err
			}
			return a.printJSON(view)
		},
	}
	f := cmd.Flags()
	f.StringVar(&dest, "url", "", "New destination URL")
	f.StringVar(&mode, "mode", "", "New routing mode")
	f.StringVar(&routing, "routing", "", "New routing config as JSON")
	f.BoolVar(&clearRouting, "clear-routing", false, "Remove the routing config")
	f.IntVar(&maxScans, "max-scans", 0, "New scan limit")
	f.BoolVar(&clearMaxScans, "clear-max-scans", false, "Remove the scan limit")
	f.DurationVar(&expiresIn, "expires-in", 0, "Expire this long from now")
	f.BoolVar(&clearExpiry, "clear-expiry", false, "Remove the expiry")
	f.BoolVar(&activate, "active", true, "Set whether the redirect is active")
	f.StringVar(&password, "password", "", "New password")
	f.BoolVar(&clearPassword, "clear-password", false, "Remove the password")
	cmd.MarkFlagsMutuallyExclusive("routing", "clear-routing")
	cmd.MarkFlagsMutuallyExclusive("max-scans", "clear-max-scans")
	cmd.MarkFlagsMutuallyExclusive("expires-in", "clear-expiry")
	cmd.MarkFlagsMutuallyExclusive("password", "clear-password")
	return cmd
}

func newRedirectDisableCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "disable CODE",
		Short: "Turn a redirect off",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code := args[0]
			if err := a.client.DisableRedirect(cmd.Context(), code, a.token(scopeRedirect, code, "")); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "disabled %s\n", code)
			return nil
		},
	}
}
