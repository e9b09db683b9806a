package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/sdingwan/kickOauthFlow/auth"
	"github.com/sdingwan/kickOauthFlow/internal/config"
)

func newCheckCmd(root *rootOptions) *cobra.Command {
	var usage bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and print the authorization request it produces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if usage {
				return config.Usage(out)
			}
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			svc, err := auth.NewService(cfg.AuthConfig())
			if err != nil {
				return err
			}
			u, err := url.Parse(svc.AuthorizeURL("<state>", auth.NewPKCE()))
			if err != nil {
				return err
			}
			guard := svc.Guard()
			fmt.Fprintf(out, "authorize endpoint: %s://%s%s\n", u.Scheme, u.Host, u.Path)
			for _, k := range []string{"response_type", "client_id", "redirect_uri", "scope", "code_challenge_method"} {
				fmt.Fprintf(out, "  %s=%s\n", k, u.Query().Get(k))
			}
			fmt.Fprintf(out, "canonical origin: %s\n", guard.Origin())
			fmt.Fprintf(out, "secure cookies: %t\n", cfg.SecureCookies())
			return nil
		},
	}
	cmd.Flags().BoolVar(&usage, "usage", false, "list the environment variables instead")
	return cmd
}
