// Package resolver estimates the final byte count of a file that is still
// being written. Strategies are tried in a fixed priority order and every
// failure degrades to "unknown"; nothing here returns an error to callers.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/downloadnotifier/downloadnotifier/internal/notification"
)

// ErrUnknownSize is returned by a strategy that has no answer for a path.
var ErrUnknownSize = errors.New("expected size unknown")

// Request describes the file being resolved.
type Request struct {
	Path string
	// SourceURL is supplied by the host when it knows where the file came from.
	SourceURL string
}

// Result is a resolved expected size and the strategy that produced it.
type Result struct {
	Size     int64
	Strategy string
}

// Strategy is one independent way of finding an expected size.
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, req Request) (int64, error)
}

// Resolver runs strategies in priority order.
type Resolver struct {
	strategies []Strategy
	sink       notification.Sink
	logger     zerolog.Logger
}

// New creates a resolver over the given strategies, highest priority first.
func New(sink notification.Sink, logger zerolog.Logger, strategies ...Strategy) *Resolver {
	if sink == nil {
		sink = notification.Discard
	}
	return &Resolver{
		strategies: strategies,
		sink:       sink,
		logger:     logger.With().Str("component", "resolver").Logger(),
	}
}

// Options selects and configures the built-in strategies.
type Options struct {
	Fs afero.Fs

	Companion bool

	ChatClient bool
	// ChatClientStore enables the speculative lookup in the chat client's
	// embedded database. StorePath is the location found by DiscoverStore.
	ChatClientStore bool
	StorePath       string

	Remote      bool
	HTTPClient  *http.Client
	HTTPTimeout time.Duration
	Sources     *SourceRegistry
}

// Build creates a resolver with the enabled built-in strategies in their
// fixed order: companion file, chat client metadata, remote HEAD.
func Build(opts Options, sink notification.Sink, logger zerolog.Logger) *Resolver {
	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}

	var strategies []Strategy
	if opts.Companion {
		strategies = append(strategies, NewCompanionStrategy(fs))
	}
	if opts.ChatClient {
		strategies = append(strategies, NewChatClientStrategy(fs, opts.StorePath, opts.ChatClientStore))
	}
	if opts.Remote {
		strategies = append(strategies, NewRemoteStrategy(opts.HTTPClient, opts.HTTPTimeout, opts.Sources))
	}
	return New(sink, logger, strategies...)
}

// Strategies returns the names of the configured strategies in order.
func (r *Resolver) Strategies() []string {
	names := make([]string, 0, len(r.strategies))
	for _, s := range r.strategies {
		names = append(names, s.Name())
	}
	return names
}

// Resolve returns the first positive size any strategy finds.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Result, bool) {
	name := filepath.Base(req.Path)

	for _, s := range r.strategies {
		size, err := s.Resolve(ctx, req)
		if err != nil {
			if !errors.Is(err, ErrUnknownSize) {
				r.logger.Debug().Err(err).Str("strategy", s.Name()).Str("path", req.Path).Msg("Strategy failed")
				r.sink.Log(fmt.Sprintf("%s lookup failed for %s: %v", s.Name(), name, err), notification.LevelInfo)
			}
			continue
		}
		if size <= 0 {
			continue
		}

		r.sink.Log(fmt.Sprintf("Expected size from %s: %s bytes", s.Name(), humanize.Comma(size)), notification.LevelInfo)
		return Result{Size: size, Strategy: s.Name()}, true
	}
	return Result{}, false
}

// ResolvePath resolves a path with no out-of-band source URL.
func (r *Resolver) ResolvePath(ctx context.Context, path string) (int64, bool) {
	res, ok := r.Resolve(ctx, Request{Path: path})
	return res.Size, ok
}
