package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/anatolio-deb/joinbot/internal/config"
	"github.com/anatolio-deb/joinbot/internal/credential"
	"github.com/anatolio-deb/joinbot/internal/events"
	"github.com/anatolio-deb/joinbot/internal/httpapi"
	"github.com/anatolio-deb/joinbot/internal/ledger"
	"github.com/anatolio-deb/joinbot/internal/metrics"
	"github.com/anatolio-deb/joinbot/internal/request"
	"github.com/anatolio-deb/joinbot/internal/scheduler"
	"github.com/anatolio-deb/joinbot/internal/telegram"
	"github.com/anatolio-deb/joinbot/internal/workflow"
)

const shutdownTimeout = 15 * time.Second

func main() {
	var configFile, envFile string
	flags := pflag.NewFlagSet("joinbot", pflag.ContinueOnError)
	flags.StringVar(&configFile, "config", "", "path to a YAML, TOML or JSON config file")
	flags.StringVar(&envFile, "env-file", "", "path to a dotenv file (default: .env if present)")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		logrus.Fatal(err)
	}

	if err := config.LoadEnvFile(envFile); err != nil {
		logrus.Fatal(err)
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		logrus.Fatal(err)
	}
	log := newLogger(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Fatal(err)
	}
	defer st.close()

	reg := prometheus.NewRegistry()
	metrics.Register(reg)

	var publisher events.Publisher = events.Nop{}
	if cfg.AMQPURL != "" {
		rp, err := events.NewRabbitPublisher(cfg.AMQPURL, cfg.AMQPExchange, log)
		if err != nil {
			log.Fatal(err)
		}
		defer rp.Close()
		publisher = rp
	}

	// Updates are only dispatched after b.Start, by which time handlers is set.
	var handlers *telegram.Handlers
	b, err := bot.New(cfg.BotToken, bot.WithDefaultHandler(func(ctx context.Context, b *bot.Bot, update *models.Update) {
		handlers.Default(ctx, b, update)
	}))
	if err != nil {
		log.Fatal(err)
	}

	l := ledger.New(st.ledger)
	issuer := credential.NewIssuer(telegram.NewAccessProvider(b),
		credential.WithTimeout(cfg.ProviderTimeout),
		credential.WithLogger(log),
	)
	notifier := telegram.NewNotifier(b, cfg.AdminID)

	wf := workflow.New(
		workflow.Config{
			ReviewerID:   cfg.AdminID,
			ChatID:       cfg.ChatID,
			InviteTTL:    cfg.InviteTTL,
			FallbackLink: cfg.FallbackInviteLink,
		},
		cfg.Catalog,
		request.NewTracker(st.requests),
		l,
		issuer,
		notifier,
		workflow.WithLogger(log),
		workflow.WithPublisher(publisher),
		workflow.WithNotifyTimeout(cfg.ProviderTimeout),
	)
	handlers = telegram.NewHandlers(wf, cfg.PaymentInstructions, log)
	handlers.Register(b)

	sched := scheduler.New(
		scheduler.Config{Interval: cfg.SweepInterval, ReminderWindow: cfg.ReminderWindow},
		l, issuer, notifier,
		scheduler.WithLogger(log),
		scheduler.WithPublisher(publisher),
		scheduler.WithNotifyTimeout(cfg.ProviderTimeout),
	)
	if err := sched.Start(ctx); err != nil {
		log.Fatal(err)
	}

	var srv *http.Server
	if cfg.HTTPAddr != "" {
		srv = &http.Server{
			Addr: cfg.HTTPAddr,
			Handler: httpapi.NewRouter(httpapi.Options{
				Catalog:  cfg.Catalog,
				Ledger:   l,
				Gatherer: reg,
				APIKey:   cfg.HTTPAPIKey,
				Health:   st.health,
				Log:      log,
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.WithField("addr", cfg.HTTPAddr).Info("ops server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("ops server stopped")
			}
		}()
	}

	log.WithFields(logrus.Fields{
		"chat_id": cfg.ChatID,
		"store":   cfg.StoreBackend,
		"plans":   len(cfg.Catalog.All()),
	}).Info("bot started")
	b.Start(ctx)

	log.Info("shutting down")
	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()

	select {
	case <-sched.Stop().Done():
	case <-shutdownCtx.Done():
		log.Warn("sweep still running at shutdown")
	}
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("ops server shutdown")
		}
	}
}

func newLogger(cfg *config.Config) *logrus.Logger {
	log := logrus.New()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}
	if cfg.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}
