// Package session wires the article stream to its collaborators: the
// article API, the push channel, the feed/tag index and the token source.
package session

import (
	"context"
	"fmt"
	"net/http"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/agentworkforce/readerstream/internal/config"
	"github.com/agentworkforce/readerstream/internal/live"
	"github.com/agentworkforce/readerstream/internal/logging"
	"github.com/agentworkforce/readerstream/internal/reader"
	"github.com/agentworkforce/readerstream/internal/readerapi"
	"github.com/agentworkforce/readerstream/internal/stream"
	"github.com/agentworkforce/readerstream/internal/token"
)

type Logger interface {
	Printf(format string, args ...any)
}

type Options struct {
	Logger     *log.Logger
	HTTPClient *http.Client
	// Tokens replaces the provider derived from the config's token and
	// token file.
	Tokens          token.Provider
	MaxCatchUpPages int
}

type Session struct {
	API     *readerapi.Client
	Formats *readerapi.FormatCache
	Index   *reader.FeedTagIndex
	Bridge  *live.Bridge
	Stream  *stream.Stream
	Gateway *stream.Gateway
	Tokens  token.Provider

	logger Logger
}

func New(cfg *config.Config, opts Options) (*Session, error) {
	if cfg == nil {
		return nil, fmt.Errorf("session: config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	s := &Session{
		Index:  reader.NewFeedTagIndex(),
		logger: printer(logging.Component(opts.Logger, "session")),
	}

	tokens := opts.Tokens
	if tokens == nil {
		var err error
		tokens, err = providerFromConfig(cfg, opts.Logger, s.logf)
		if err != nil {
			return nil, err
		}
	}
	s.Tokens = tokens

	s.API = readerapi.NewClient(cfg.BaseURL, tokens.Token, readerapi.Options{
		APIPrefix:         cfg.APIPrefix,
		HTTPClient:        opts.HTTPClient,
		MaxRetries:        cfg.MaxRetries,
		BaseDelay:         cfg.RetryBaseDelay,
		MaxDelay:          cfg.RetryMaxDelay,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Unauthorized:      tokens.Unauthorized,
		Logger:            printer(logging.Component(opts.Logger, "api")),
	})
	formats, err := readerapi.NewFormatCache(s.API, cfg.FormatCacheSize)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	s.Formats = formats

	s.Bridge, err = live.New(live.Options{
		URL:            cfg.ResolvedPushURL(),
		HTTPClient:     opts.HTTPClient,
		ReconnectDelay: cfg.ReconnectDelay,
		Unauthorized:   tokens.Unauthorized,
		Logger:         printer(logging.Component(opts.Logger, "live")),
	})
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	streamLogger := printer(logging.Component(opts.Logger, "stream"))
	s.Stream = stream.New(s.API, stream.Options{
		PageSize:        cfg.PageSize,
		SettleDelay:     cfg.SettleDelay,
		MaxCatchUpPages: opts.MaxCatchUpPages,
		Prefs:           cfg.Preferences,
		Tags:            s.Index,
		Logger:          streamLogger,
	})
	s.Gateway = stream.NewGateway(s.API, s.Stream, streamLogger)
	return s, nil
}

func providerFromConfig(cfg *config.Config, logger *log.Logger, logf func(string, ...any)) (token.Provider, error) {
	if cfg.TokenFile != "" {
		return token.NewFileProvider(cfg.TokenFile, token.FileOptions{
			Logger: printer(logging.Component(logger, "token")),
		})
	}
	return token.NewStatic(cfg.Token, func() {
		logf("server rejected the configured token")
	}), nil
}

// Run drives the stream, the push channel and the token source until ctx is
// done or one of them fails.
func (s *Session) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	connectivity, unsubscribe := s.Bridge.Connectivity()

	g.Go(func() error { return s.Stream.Run(ctx) })
	g.Go(func() error { return s.Bridge.Run(ctx) })
	if runner, ok := s.Tokens.(interface{ Run(context.Context) error }); ok {
		g.Go(func() error { return runner.Run(ctx) })
	}
	g.Go(func() error { return s.followTokens(ctx) })
	g.Go(func() error { return s.forwardEvents(ctx) })
	g.Go(func() error {
		defer unsubscribe()
		return s.forwardConnectivity(ctx, connectivity)
	})
	return g.Wait()
}

// followTokens reconnects the push channel on every new token and rebuilds
// the feed/tag index when the login behind it changes. A renewed token for
// the same login keeps the list; switching to another login reloads it.
func (s *Session) followTokens(ctx context.Context) error {
	var login string
	for {
		select {
		case <-ctx.Done():
			return nil
		case tok := <-s.Tokens.Changes():
			s.Bridge.SetToken(tok)
			if tok == "" {
				s.Index.Reset()
				continue
			}
			identity, err := s.RebuildIndex(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logf("rebuild feed index: %v", err)
				continue
			}
			if login != "" && identity != login {
				s.Formats.Purge()
				s.Stream.Refresh()
			}
			login = identity
		}
	}
}

// RebuildIndex resolves the login behind the current token and rebuilds
// the feed/tag index unless it already belongs to that login.
func (s *Session) RebuildIndex(ctx context.Context) (string, error) {
	user, err := s.API.CurrentUser(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve login: %w", err)
	}
	identity := user.Identity()
	if identity == "" {
		return "", fmt.Errorf("resolve login: server returned no user")
	}
	if _, err := s.Index.Rebuild(ctx, identity, s.API); err != nil {
		return "", err
	}
	return identity, nil
}

func (s *Session) forwardEvents(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-s.Bridge.Events():
			switch e := event.(type) {
			case reader.FeedUpdate:
				s.Stream.FeedUpdate(e)
			case reader.StateChange:
				s.Stream.StateChange(e)
			default:
				s.logf("unexpected push event %T", event)
			}
		}
	}
}

func (s *Session) forwardConnectivity(ctx context.Context, connectivity <-chan bool) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case connected := <-connectivity:
			s.Stream.Connectivity(connected)
		}
	}
}

func (s *Session) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}

// printer keeps a nil *log.Logger from becoming a non-nil interface.
func printer(logger *log.Logger) Logger {
	if logger == nil {
		return nil
	}
	return logger
}
