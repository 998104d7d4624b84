package main

import (
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/downloadnotifier/downloadnotifier/internal/config"
	"github.com/downloadnotifier/downloadnotifier/internal/notification"
	"github.com/downloadnotifier/downloadnotifier/internal/resolver"
)

type commandContext struct {
	configFlag   *string
	logLevelFlag *string
	pathsFlag    *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, logLevelFlag, pathsFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		logLevelFlag: logLevelFlag,
		pathsFlag:    pathsFlag,
	}
}

// ensureConfig loads the configuration once and applies flag overrides.
func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, err := config.Load(strings.TrimSpace(*c.configFlag))
		if err != nil {
			c.configErr = err
			return
		}
		if level := strings.TrimSpace(*c.logLevelFlag); level != "" {
			cfg.Logging.Level = level
		}
		if paths := config.ParsePathList(*c.pathsFlag); len(paths) > 0 {
			cfg.Monitor.Paths = paths
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// buildResolver assembles the expected-size strategies enabled in cfg.
// extraSources are added on top of the configured sources.
func buildResolver(cfg *config.Config, fs afero.Fs, sink notification.Sink, logger zerolog.Logger, extraSources map[string]string) *resolver.Resolver {
	sources := resolver.NewSourceRegistry(cfg.Resolver.SourceMap())
	for file, url := range extraSources {
		sources.Register(file, url)
	}

	var store string
	if cfg.Resolver.ChatClient {
		if home, err := os.UserHomeDir(); err == nil {
			store = resolver.DiscoverStore(fs, home)
		}
		if store != "" {
			logger.Debug().Str("store", store).Msg("Found chat client data")
		}
	}

	return resolver.Build(resolver.Options{
		Fs:              fs,
		Companion:       cfg.Resolver.Companion,
		ChatClient:      cfg.Resolver.ChatClient,
		ChatClientStore: cfg.Resolver.ChatClientStore,
		StorePath:       store,
		Remote:          cfg.Resolver.Remote,
		HTTPTimeout:     cfg.Resolver.HTTPTimeout,
		Sources:         sources,
	}, sink, logger)
}
