// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sturdy-study/internal/config"
	"sturdy-study/internal/domain"
	"sturdy-study/internal/domain/ports/adapter"
	"sturdy-study/internal/domain/ports/repository"
	"sturdy-study/internal/infra/adapters/study"
	"sturdy-study/internal/infra/api"
	"sturdy-study/internal/infra/logging"
	"sturdy-study/internal/infra/metrics"
	red "sturdy-study/internal/infra/redis"
	"sturdy-study/internal/infra/security"
	"sturdy-study/internal/usecase"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, rt := newRootCmd()
	err := root.ExecuteContext(ctx)
	rt.Close()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", domain.Describe(err, "command failed"))
		stop()
		os.Exit(1)
	}
}

type rootFlags struct {
	configPath string
	dev        bool
	user       string
	course     string
}

// wiring holds what the pre-run wired. Close must run after Execute,
// whether or not the command failed.
type wiring struct {
	app     *application
	cleanup func()
}

func (r *wiring) Close() {
	if r.cleanup != nil {
		r.cleanup()
		r.cleanup = nil
	}
}

func newRootCmd() (*cobra.Command, *wiring) {
	var flags rootFlags
	rt := &wiring{}

	root := &cobra.Command{
		Use:           "app",
		Short:         "Command-line client for the study assistant service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			_ = godotenv.Load()
			cfg, err := config.LoadConfig(flags.configPath, flags.dev)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if flags.user != "" {
				cfg.Identity.User = flags.user
			}
			if flags.course != "" {
				cfg.Identity.Course = flags.course
			}

			logger := logging.New(cfg.Log, cfg.Runtime.Dev)
			metrics.MustRegister()
			metrics.SetBuildInfo(version, commit)

			rt.app, rt.cleanup, err = wire(cmd.Context(), cfg, logger)
			if err != nil {
				logger.Error().Err(err).Msg("startup failed")
				return err
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "config.yaml", "path to YAML config file")
	root.PersistentFlags().BoolVar(&flags.dev, "dev", false, "use the in-process study backend and console logs")
	root.PersistentFlags().StringVar(&flags.user, "identity", "", "user part of the identity key (overrides config)")
	root.PersistentFlags().StringVar(&flags.course, "course", "", "course part of the identity key (overrides config)")

	current := func() *application { return rt.app }
	root.AddCommand(
		examCmd(current),
		examStatusCmd(current),
		tutorCmd(current),
		chatCmd(current),
		searchCmd(current),
		prioritizeCmd(current),
		mapCmd(current),
		youtubeCmd(current),
		uploadCmd(current),
	)
	return root, rt
}

type application struct {
	cfg      *config.Config
	log      *zerolog.Logger
	svc      adapter.StudyService
	identity string

	workspace *usecase.Workspace
	poller    *usecase.JobPoller
	tutor     *usecase.SessionController
	chat      *usecase.ChatController
	ingestor  *usecase.Ingestor
	views     usecase.Views
	redis     red.RedisClient
}

// wire builds the service client, the optional redis stores and the controllers.
func wire(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*application, func(), error) {
	var svc adapter.StudyService
	if cfg.Runtime.Dev {
		logger.Info().Msg("dev mode: using in-process study backend")
		svc = study.NewNoopStudyService()
	} else {
		httpSvc, err := study.NewHTTPStudyService(cfg.API.BaseURL, cfg.API.Timeout, logger)
		if err != nil {
			return nil, nil, err
		}
		svc = httpSvc
	}
	svc = study.NewLimitedStudyService(svc, cfg.API.ConcurrentLimit)

	app := &application{
		cfg:      cfg,
		log:      logger,
		svc:      svc,
		identity: usecase.CompositeIdentity(cfg.Identity.User, cfg.Identity.Course),
	}
	closeRedis := func() {}

	var ledger repository.JobLedger
	var transcripts repository.TranscriptStore
	if cfg.Redis.URL != "" {
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		rc, err := red.NewClient(dialCtx, &cfg.Redis)
		cancel()
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable; exam ledger and session resume disabled")
		} else {
			app.redis = rc
			closeRedis = func() { _ = rc.Close() }
			ledger = red.NewJobLedger(rc, cfg.Redis.TTL)

			var cipher red.Cipher
			if cfg.Security.EncryptionKey != "" {
				enc, err := security.NewEncryptionService(cfg.Security.EncryptionKey)
				if err != nil {
					closeRedis()
					return nil, nil, fmt.Errorf("encryption: %w", err)
				}
				cipher = enc
			} else {
				logger.Warn().Msg("security.encryption_key not set; transcripts stored unencrypted")
			}
			transcripts = red.NewTranscriptStore(rc, cipher, cfg.Redis.TTL)
		}
	}

	app.workspace = usecase.NewWorkspace(logger)
	app.poller = usecase.NewJobPoller(svc, ledger, cfg.Poller.Interval, logger)
	app.tutor = usecase.NewSessionController(svc, transcripts, logger)
	app.tutor.SetDevLogging(cfg.Runtime.Dev)
	app.chat = usecase.NewChatController(svc, logger)
	app.ingestor = usecase.NewIngestor(svc, cfg.API.ConcurrentLimit, logger)

	app.workspace.Register(app.poller)
	app.workspace.Register(app.tutor)
	app.workspace.Register(app.chat)
	app.workspace.SetIdentity(app.identity)

	app.views = usecase.Views{Workspace: app.workspace, Poller: app.poller, Tutor: app.tutor, Chat: app.chat}

	cleanup := func() {
		app.poller.Close()
		app.tutor.Flush()
		app.chat.Clear()
		closeRedis()
	}
	return app, cleanup, nil
}

// serve runs fn next to the admin server (when enabled). The admin server
// stops once fn returns.
func (a *application) serve(ctx context.Context, fn func(ctx context.Context) error) error {
	cmdCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(cmdCtx)
	if a.cfg.Admin.Port > 0 {
		srv := api.NewServer(a.cfg.Admin.Port, func() any { return a.views.State() }, a.health, a.log)
		g.Go(func() error { return srv.Run(gctx) })
	}
	g.Go(func() error {
		defer cancel()
		return fn(gctx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		a.log.Info().Msg("interrupted")
		return nil
	}
	if err != nil {
		a.log.Debug().Err(err).Msg("command failed")
	}
	return err
}

func (a *application) health(ctx context.Context) error {
	if a.redis == nil {
		return nil
	}
	return a.redis.Ping(ctx)
}
