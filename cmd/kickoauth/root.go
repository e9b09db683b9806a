package main

import (
	"github.com/spf13/cobra"

	"github.com/sdingwan/kickOauthFlow/internal/config"
)

type rootOptions struct {
	envFile string
}

func (o *rootOptions) load() (*config.Config, error) {
	return config.Load(o.envFile)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "kickoauth",
		Short:         "Log in to Kick with OAuth 2.1 and browse channels as that user",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", "",
		"dotenv file merged into the environment (default "+config.DefaultEnvFile+" when present)")

	cmd.AddCommand(newServeCmd(opts), newCheckCmd(opts))
	return cmd
}
