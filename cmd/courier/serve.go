package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"courier/internal/channel"
	"courier/internal/config"
	"courier/internal/dispatch"
	"courier/internal/domain"
	"courier/internal/flow"
	"courier/internal/hub"
	"courier/internal/inbound"
	"courier/internal/ratelimit"
	"courier/internal/server"
	"courier/internal/store"
	"courier/internal/sweep"
)

func serveCmd() *cobra.Command {
	var sweepInterval time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and the timeout sweep",
		Long:  "Starts the webhook and API server plus the periodic conversation timeout sweep. Press Ctrl+C to stop.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(sweepInterval)
		},
	}
	cmd.Flags().DurationVar(&sweepInterval, "sweep-interval", 5*time.Minute, "interval between timeout sweeps (0 disables)")
	return cmd
}

// components bundles everything built from config, shared by serve and the
// one-shot sweep command.
type components struct {
	store      *store.SQLiteStore
	engine     *flow.Engine
	notifier   *hub.Notifier
	whatsapp   *channel.WhatsApp
	telegram   *channel.Telegram
	dispatcher *dispatch.Dispatcher
	processor  *inbound.Processor
	sweeper    *sweep.Sweeper
}

func buildComponents(cfg *config.Config) (*components, error) {
	st, err := store.NewSQLiteStore(cfg.Storage.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	table := flow.Builtin()
	if cfg.Flows.DefinitionsPath != "" {
		table, err = flow.LoadFile(cfg.Flows.DefinitionsPath, logger)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("flow definitions: %w", err)
		}
	}

	engine := flow.NewEngine(table, st, logger)
	notifier := hub.NewNotifier(cfg.Hub.WebhookURL, cfg.Hub.WebhookSecret, logger)

	limiter := ratelimit.New(ratelimit.NewMemoryStore(), cfg.RateLimit.MaxPerHour, cfg.RateLimit.MaxPerDay)

	whatsapp := channel.NewWhatsApp(channel.WhatsAppConfig{
		PhoneNumberID: cfg.WhatsApp.PhoneNumberID,
		AccessToken:   cfg.WhatsApp.AccessToken,
		AppSecret:     cfg.WhatsApp.AppSecret,
		VerifyToken:   cfg.WhatsApp.VerifyToken,
	}, logger)
	telegram := channel.NewTelegram(channel.TelegramConfig{
		Token:         cfg.Telegram.Token,
		WebhookSecret: cfg.Telegram.WebhookSecret,
	}, logger)

	adapters := map[string]channel.Adapter{}
	if cfg.WhatsApp.Enabled {
		adapters[domain.ChannelWhatsApp] = whatsapp
	}
	if cfg.Telegram.Enabled {
		adapters[domain.ChannelTelegram] = telegram
	}

	return &components{
		store:      st,
		engine:     engine,
		notifier:   notifier,
		whatsapp:   whatsapp,
		telegram:   telegram,
		dispatcher: dispatch.New(st, limiter, engine, adapters, logger),
		processor:  inbound.NewProcessor(st, engine, notifier, logger),
		sweeper:    sweep.New(st, engine, notifier, logger),
	}, nil
}

func runServe(sweepInterval time.Duration) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := setupLogger(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	comps, err := buildComponents(cfg)
	if err != nil {
		return err
	}
	defer comps.store.Close()

	if sweepInterval > 0 {
		go runSweepLoop(ctx, comps.sweeper, sweepInterval)
	}

	srv := server.New(server.Config{
		Host:                  cfg.Server.Host,
		Port:                  cfg.Server.Port,
		APIKey:                cfg.Server.APIKey,
		TelegramWebhookSecret: cfg.Telegram.WebhookSecret,
		MetricsEnabled:        cfg.Metrics.Enabled,
		MetricsEndpoint:       cfg.Metrics.Endpoint,
	}, comps.store, comps.dispatcher, comps.processor, comps.whatsapp, comps.telegram, logger)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func runSweepLoop(ctx context.Context, sweeper *sweep.Sweeper, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := sweeper.Run(ctx); err != nil {
				logger.Error("timeout sweep failed", "err", err)
			}
		}
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one timeout sweep and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := setupLogger(cfg); err != nil {
				return err
			}

			comps, err := buildComponents(cfg)
			if err != nil {
				return err
			}
			defer comps.store.Close()

			n, err := comps.sweeper.Run(context.Background())
			if err != nil {
				return err
			}
			logger.Info("sweep done", "timed_out", n)
			return nil
		},
	}
}

func telegramWebhookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup-telegram-webhook",
		Short: "Register or remove the Telegram webhook",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set [url]",
		Short: "Register the webhook URL with Telegram (defaults to telegram.webhookUrl)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			url := cfg.Telegram.WebhookURL
			if len(args) == 1 {
				url = args[0]
			}
			if url == "" {
				return fmt.Errorf("no webhook URL given and telegram.webhookUrl is empty")
			}

			tg := channel.NewTelegram(channel.TelegramConfig{
				Token:         cfg.Telegram.Token,
				WebhookSecret: cfg.Telegram.WebhookSecret,
			}, logger)

			username, err := tg.GetMe()
			if err != nil {
				return fmt.Errorf("telegram auth: %w", err)
			}
			if err := tg.SetWebhook(url); err != nil {
				return fmt.Errorf("set webhook: %w", err)
			}
			logger.Info("telegram webhook registered", "bot", username, "url", url)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete",
		Short: "Remove the registered webhook",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			tg := channel.NewTelegram(channel.TelegramConfig{Token: cfg.Telegram.Token}, logger)
			if err := tg.DeleteWebhook(); err != nil {
				return fmt.Errorf("delete webhook: %w", err)
			}
			logger.Info("telegram webhook removed")
			return nil
		},
	})

	return cmd
}
