package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"signflow/completion"
	"signflow/config"
	"signflow/credential"
	"signflow/db"
	"signflow/document"
	"signflow/gate"
	"signflow/lifecycle"
	"signflow/logging"
	"signflow/notify"
	"signflow/objectstore"
	"signflow/otp"
	"signflow/token"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("load config")
	}
	log := logging.New("signflow", cfg.LogLevel, cfg.LogFormat, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("signflow exited")
	}
}

func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.server.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Str("driver", cfg.StoreDriver).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := a.sweeper.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		log.Info().Msg("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

type app struct {
	server  *Server
	sweeper *otp.Sweeper
	close   func()
}

type repositories struct {
	documents   document.Repository
	completions completion.Repository
	codes       otp.Repository
	locker      gate.Locker
	close       func()
}

func newApp(ctx context.Context, cfg config.Config, log zerolog.Logger) (*app, error) {
	repos, err := openRepositories(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		repos.close()
		return nil, err
	}

	var mailer interface {
		notify.Notifier
		notify.CodeSender
	}
	if cfg.Resend.APIKey != "" {
		mailer = notify.NewResendClient(cfg.Resend.APIKey, cfg.Resend.From).WithEndpoint(cfg.Resend.Endpoint)
	} else {
		log.Warn().Msg("RESEND_API_KEY unset; mail is logged only")
		mailer = notify.NewLogNotifier(log)
	}
	links := notify.Links{BaseURL: cfg.FrontendURL}

	tracker := completion.NewTracker(repos.completions, repos.documents, store, token.NewIssuer()).
		WithLogger(log)
	finalizer := gate.New(repos.documents, tracker, repos.locker, mailer, links).
		WithLogger(log)
	tracker.WithFinalizer(finalizer)

	controller := lifecycle.NewController(repos.documents, tracker, store, mailer, links).
		WithBulkConcurrency(cfg.BulkPublishConcurrency).
		WithLogger(log)

	secret := cfg.JWTSecret
	if secret == "" {
		secret = randomSecret()
		log.Warn().Msg("JWT_SECRET unset; credentials will not survive a restart")
	}
	credentials := credential.NewIssuer(secret, cfg.CredentialTTL)

	codes := otp.NewService(repos.codes, mailer).WithLogger(log)
	sweeper := otp.NewSweeper(repos.codes, cfg.OTPSweepInterval, log)

	return &app{
		server: &Server{
			documents:   controller,
			completions: tracker,
			credentials: credentials,
			codes:       codes,
			log:         log,
		},
		sweeper: sweeper,
		close:   repos.close,
	}, nil
}

func openRepositories(ctx context.Context, cfg config.Config) (repositories, error) {
	if cfg.StoreDriver == config.DriverMemory {
		return repositories{
			documents:   document.NewMemoryRepository(),
			completions: completion.NewMemoryRepository(),
			codes:       otp.NewMemoryRepository(),
			locker:      gate.NewKeyedMutex(),
			close:       func() {},
		}, nil
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return repositories{}, err
	}
	return repositories{
		documents:   document.NewRepository(pool),
		completions: completion.NewRepository(pool),
		codes:       otp.NewRepository(pool),
		locker:      gate.NewKeyedMutex(),
		close:       pool.Close,
	}, nil
}

func openStore(ctx context.Context, cfg config.Config) (objectstore.Store, error) {
	if cfg.S3.Bucket == "" {
		return objectstore.NewMemoryStore("local"), nil
	}
	s3, err := objectstore.NewS3Store(ctx, objectstore.S3Config{
		Bucket:          cfg.S3.Bucket,
		Region:          cfg.S3.Region,
		Endpoint:        cfg.S3.Endpoint,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
		PresignExpiry:   cfg.S3.PresignExpiry,
	})
	if err != nil {
		return nil, err
	}
	return s3, nil
}

func randomSecret() string {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
