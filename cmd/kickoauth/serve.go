package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sdingwan/kickOauthFlow/auth"
	"github.com/sdingwan/kickOauthFlow/internal/config"
	"github.com/sdingwan/kickOauthFlow/internal/web"
	"github.com/sdingwan/kickOauthFlow/kick"
	"github.com/sdingwan/kickOauthFlow/middleware"
)

const sessionKeyID = "k1"

func newServeCmd(root *rootOptions) *cobra.Command {
	var (
		addr   string
		strict bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.ListenAddr = addr
			}
			return serve(cmd.Context(), cfg, strict)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides LISTEN_ADDR)")
	cmd.Flags().BoolVar(&strict, "strict", false, "refuse to start when the configuration is incomplete")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, strict bool) error {
	logger, err := cfg.Logger(os.Stderr)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		if strict || !onlyMissing(err) {
			return err
		}
		// Missing OAuth settings surface as an error page on /login.
		logger.Warn().Err(err).Msg("configuration incomplete")
	}

	handler, err := newHandler(cfg, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return logger.WithContext(context.Background()) },
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Str("redirect_uri", cfg.RedirectURI).Msg("listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info().Dur("timeout", cfg.ShutdownTimeout).Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// onlyMissing reports whether every error joined in err is a missing
// setting.
func onlyMissing(err error) bool {
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return errors.Is(err, config.ErrMissingSettings)
	}
	for _, e := range joined.Unwrap() {
		if !errors.Is(e, config.ErrMissingSettings) {
			return false
		}
	}
	return true
}

func newHandler(cfg *config.Config, logger zerolog.Logger) (http.Handler, error) {
	key, generated, err := cfg.SessionKey()
	if err != nil {
		return nil, err
	}
	if generated {
		logger.Warn().Msg("SESSION_SECRET is not set; sessions will not survive a restart")
	}
	sessions, err := middleware.NewSessionProcessor(sessionKeyID,
		map[string][]byte{sessionKeyID: key},
		middleware.WithCookieOptions(middleware.WithSecure(cfg.SecureCookies())))
	if err != nil {
		return nil, err
	}
	svc, err := auth.NewService(cfg.AuthConfig())
	if err != nil {
		return nil, err
	}
	return web.New(web.Options{
		Auth:       svc,
		Kick:       kick.NewClient(cfg.KickOptions()...),
		Sessions:   sessions,
		Logger:     logger,
		Pusher:     web.Pusher{Key: cfg.PusherKey, Cluster: cfg.PusherCluster},
		TrustProxy: cfg.TrustProxy,
	})
}
