package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Vovarama1992/astro-dispatch/internal/admin"
	"github.com/Vovarama1992/astro-dispatch/internal/ai"
	"github.com/Vovarama1992/astro-dispatch/internal/astrology"
	"github.com/Vovarama1992/astro-dispatch/internal/dispatch"
	"github.com/Vovarama1992/astro-dispatch/internal/memory"
	"github.com/Vovarama1992/astro-dispatch/internal/telegram"
	"github.com/Vovarama1992/astro-dispatch/internal/wizard"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook, the worker pool and the admin API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.TelegramToken == "" {
		return errors.New("TELEGRAM_BOT_TOKEN not set")
	}
	if cfg.OpenAIKey == "" && cfg.OpenAIBaseURL == "" {
		return errors.New("OPENAI_API_KEY not set (or point OPENAI_BASE_URL at a local model)")
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger, serveNeeds(cfg))
	if err != nil {
		return err
	}
	defer a.Close()

	// --- dispatch wiring ---
	out := telegram.NewBotOutbound(cfg.TelegramAPIURL, cfg.TelegramToken, cfg.TelegramSendRPS, logger)
	mem := memory.NewService(a.history, a.semantic, logger)
	flow := wizard.NewFlow(a.users, a.staging, wizard.NewMachine(), logger)
	gate := dispatch.NewGate(a.users, flow, a.queue, out, mem, cfg.DefaultPriority, logger)

	agent := ai.NewOpenAIClient(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, logger)
	if cfg.AstrologyAPIURL != "" {
		agent.WithForecaster(astrology.NewClient(cfg.AstrologyAPIURL, logger))
	} else {
		logger.Warn("ASTROLOGY_API_URL not set, answers are given without prediction data")
	}
	pool := dispatch.NewPool(dispatch.PoolConfig{
		Workers:          cfg.WorkerCount,
		InferenceTimeout: cfg.InferenceTimeout,
		ReapInterval:     cfg.ReapInterval,
		HistorySize:      cfg.HistorySize,
	}, a.queue, agent, mem, out, a.journal, logger)

	tg := telegram.NewHandler(cfg.TelegramWebhookSecret, logger)
	tg.OnMessage(gate.OnMessage)

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Admin-Token"},
	}))

	telegram.RegisterRoutes(r, tg)
	if cfg.AdminToken != "" {
		admin.RegisterRoutes(r, admin.NewHandler(a.adminService(), logger), cfg.AdminToken)
	} else {
		logger.Warn("ADMIN_TOKEN not set, admin API disabled")
	}

	// --- health ---
	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("pong"))
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pool.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("listening", zap.String("port", cfg.Port),
			zap.String("queue", cfg.QueueBackend),
			zap.String("failed_sink", cfg.FailedSink),
			zap.Int("workers", cfg.WorkerCount),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}
