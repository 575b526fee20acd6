package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/quartissimo/realtime/internal/api"
	"github.com/quartissimo/realtime/internal/channel"
	"github.com/quartissimo/realtime/internal/notifsync"
	"github.com/quartissimo/realtime/internal/session"
	"github.com/quartissimo/realtime/pkg/config"
	"go.uber.org/zap"
)

// clientEnv is what every command builds on.
type clientEnv struct {
	cfg     *config.ClientConfig
	logger  *zap.Logger
	session *session.Session
	api     *api.Client
}

func loadConfig() *config.ClientConfig {
	cfg := config.LoadClient()
	if globalOptions.APIURL != "" {
		cfg.APIBaseURL = globalOptions.APIURL
	}
	if globalOptions.TokenFile != "" {
		cfg.TokenFile = globalOptions.TokenFile
	}
	return cfg
}

func newClientEnv() (*clientEnv, error) {
	cfg := loadConfig()
	logger, err := config.NewLogger(cfg.Env)
	if err != nil {
		return nil, err
	}
	sess, err := session.New(cfg.APIBaseURL, session.FileTokenStore{Path: cfg.TokenFile}, nil)
	if err != nil {
		return nil, err
	}
	return &clientEnv{cfg: cfg, logger: logger, session: sess, api: api.New(sess)}, nil
}

func (e *clientEnv) dial(ctx context.Context) (*channel.Channel, error) {
	return channel.Dial(ctx, e.session, channel.Options{
		ReconnectAttempts: e.cfg.ReconnectAttempts,
		ReconnectDelay:    e.cfg.ReconnectDelay,
		Logger:            e.logger.Named("channel"),
	})
}

func (e *clientEnv) syncer(opts notifsync.Options) *notifsync.Syncer {
	opts.SyncInterval = e.cfg.SyncInterval
	opts.RetryAttempts = e.cfg.RetryAttempts
	opts.RetryDelay = e.cfg.RetryDelay
	opts.RefreshDelay = e.cfg.RefreshDelay
	opts.Logger = e.logger.Named("notifsync")
	return notifsync.New(e.api, e.session.UserID, opts)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
