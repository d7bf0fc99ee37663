package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"jobpipe/features/job"
	"jobpipe/features/stats"
	"jobpipe/internal/config"
	"jobpipe/internal/idgen"
	"jobpipe/internal/middleware"
	"jobpipe/internal/queue"
	"jobpipe/internal/worker"
)

// Database is the part of *sql.DB the app touches directly.
type Database interface {
	PingContext(ctx context.Context) error
}

// Options overrides collaborators that are otherwise built from config.
type Options struct {
	Converter worker.Converter
	Mailer    worker.Mailer
	IDs       job.IDGenerator
}

type App struct {
	Handler    http.Handler
	JobService *job.Service
	Executor   *worker.Executor

	cfg    *config.Config
	sub    queue.Subscriber
	logger *slog.Logger
}

func New(cfg *config.Config, deps *Dependencies, logger *slog.Logger, opts *Options) (*App, error) {
	if deps == nil || deps.DB == nil || deps.Blobs == nil || deps.Publisher == nil {
		return nil, errors.New("app: incomplete dependencies")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts == nil {
		opts = &Options{}
	}

	// Feature: Job
	jobRepo := job.NewPostgresRepo(deps.DB)
	ids := opts.IDs
	if ids == nil {
		ids = idgen.NewUUIDv7()
	}
	jobService := job.NewService(jobRepo, deps.Blobs, deps.Publisher, ids, logger, job.Settings{
		UploadTTL:      cfg.UploadURLTTL,
		DownloadTTL:    cfg.DownloadURLTTL,
		WaitingTTL:     cfg.WaitingTTL,
		ProcessingTTL:  cfg.ProcessingTTL,
		PublishTimeout: 5 * time.Second,
	})
	jobHandler := job.NewHandler(jobService)

	// Feature: Stats
	statsHandler := stats.NewHandler(jobService)

	// Worker
	converter := opts.Converter
	if converter == nil {
		converter = worker.NewProcessConverter(cfg.ConverterPath, cfg.ConverterTimeout)
	}
	mailer := opts.Mailer
	if mailer == nil {
		mailer = newMailer(cfg, logger)
	}
	executor := worker.NewExecutor(jobRepo, deps.Blobs, converter, mailer,
		worker.WithScratchDir(cfg.ScratchDir),
		worker.WithLogger(logger),
	)

	// Middleware: CORS
	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+middleware.CallerHeader)

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}
	wrap := func(h http.HandlerFunc) http.Handler {
		return middleware.Recover(middleware.CorrelationID(enableCORS(h)))
	}

	// Routes
	mux := http.NewServeMux()

	mux.Handle("POST /jobs/conversions", wrap(jobHandler.CreateConversion))
	mux.Handle("POST /jobs/emails", wrap(jobHandler.CreateEmail))
	mux.Handle("GET /jobs/{id}", wrap(jobHandler.Get))

	mux.Handle("GET /stats", wrap(statsHandler.GetStats))

	if deps.BlobHandler != nil {
		mux.Handle("/blob/", middleware.Recover(http.StripPrefix("/blob", deps.BlobHandler)))
	}

	mux.HandleFunc("/health", healthHandler(deps.DB))

	return &App{
		Handler:    mux,
		JobService: jobService,
		Executor:   executor,
		cfg:        cfg,
		sub:        deps.Subscriber,
		logger:     logger,
	}, nil
}

func newMailer(cfg *config.Config, logger *slog.Logger) worker.Mailer {
	if cfg.SMTPHost == "" {
		return worker.LogMailer{Logger: logger}
	}
	return worker.NewSMTPMailer(worker.SMTPConfig{
		Host: cfg.SMTPHost,
		Port: cfg.SMTPPort,
		User: cfg.SMTPUser,
		Pass: cfg.SMTPPass,
		From: cfg.MailFrom,
	})
}

func healthHandler(db Database) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}
}

// Run serves the API and runs one executor loop per job kind plus the reaper,
// depending on ENABLE_API and ENABLE_WORKER. It returns when ctx is cancelled
// or any component fails.
func (a *App) Run(ctx context.Context) error {
	if a.cfg.EnableWorker && a.sub == nil {
		return errors.New("app: worker enabled without a queue subscriber")
	}

	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.EnableAPI {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.ServerPort),
			Handler:           a.Handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			<-ctx.Done()
			a.logger.Info("shutting down server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		g.Go(func() error {
			a.logger.Info("server starting", "port", a.cfg.ServerPort)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	if a.cfg.EnableWorker {
		for _, topic := range config.Topics {
			g.Go(func() error {
				return a.Executor.Run(ctx, a.sub, topic)
			})
		}
		g.Go(func() error {
			return a.JobService.RunReaper(ctx, a.cfg.ReaperInterval)
		})
	}

	return g.Wait()
}
