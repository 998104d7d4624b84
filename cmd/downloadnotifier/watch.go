package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/downloadnotifier/downloadnotifier/internal/classifier"
	"github.com/downloadnotifier/downloadnotifier/internal/config"
	"github.com/downloadnotifier/downloadnotifier/internal/logger"
	"github.com/downloadnotifier/downloadnotifier/internal/notification"
	"github.com/downloadnotifier/downloadnotifier/internal/notification/webhook"
	"github.com/downloadnotifier/downloadnotifier/internal/watcher"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [dir...]",
		Short: "Watch directories and report finished downloads",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if len(args) > 0 {
				cfg.Monitor.Paths = config.ParsePathList(strings.Join(args, ","))
			}

			log := logger.New(cfg.Logging.LoggerConfig())
			defer log.Close()

			release, err := acquireLock(cfg.Monitor.LockFile)
			if err != nil {
				return err
			}
			defer func() {
				if err := release(); err != nil {
					log.Warn().Err(err).Msg("Failed to release lock")
				}
			}()

			notifications, err := newNotificationService(cfg, log.Logger)
			if err != nil {
				return err
			}
			defer notifications.Close()

			out := cmd.OutOrStdout()
			notifications.Subscribe(notification.Subscriber{
				OnComplete: func(ev notification.CompletionEvent) {
					fmt.Fprintf(out, "%s  %s  %s\n", ev.CompletedAt.Format(time.TimeOnly), ev.Path, humanize.Bytes(uint64(ev.Size)))
				},
			})

			fs := afero.NewOsFs()
			svc := watcher.NewService(watcher.Options{
				Tracker:         cfg.Detection.TrackerConfig(),
				Recursive:       cfg.Monitor.Recursive,
				SummaryInterval: cfg.Monitor.SummaryInterval,
				Resolver:        buildResolver(cfg, fs, notifications, log.Logger, nil),
				Classifier:      classifier.New(cfg.Detection.ExtraTempSuffixes...),
				Fs:              fs,
			}, notifications, log.Logger)

			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := svc.Start(sigCtx, cfg.Monitor.Paths); err != nil {
				return err
			}

			// SIGHUP reports the in-flight downloads without waiting for the job.
			hup := make(chan os.Signal, 1)
			signal.Notify(hup, syscall.SIGHUP)
			defer signal.Stop(hup)

			for {
				select {
				case <-hup:
					if err := svc.Summarize(); err != nil {
						log.Warn().Err(err).Msg("Failed to summarize downloads")
					}
				case <-sigCtx.Done():
					log.Info().Msg("Shutting down")
					return svc.Stop()
				}
			}
		},
	}
}

func newNotificationService(cfg *config.Config, log zerolog.Logger) (*notification.Service, error) {
	svc, err := notification.NewService(notification.Config{Workers: cfg.Notifications.Workers}, log)
	if err != nil {
		return nil, fmt.Errorf("create notification service: %w", err)
	}

	if hook := newWebhookNotifier(cfg, log); hook != nil {
		svc.AddNotifier(hook)
	}
	return svc, nil
}

// newWebhookNotifier returns nil when no webhook URL is configured.
func newWebhookNotifier(cfg *config.Config, log zerolog.Logger) *webhook.Notifier {
	hook := cfg.Notifications.Webhook
	if !hook.Enabled() {
		return nil
	}
	return webhook.New("webhook", webhook.Settings{
		URL:      hook.URL,
		Method:   strings.ToUpper(hook.Method),
		Username: hook.Username,
		Password: hook.Password,
		Headers:  hook.Headers,
	}, nil, log)
}
