package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	raven "github.com/getsentry/raven-go"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/openresearch/newsletter-backend/api"
	"github.com/openresearch/newsletter-backend/captcha"
	"github.com/openresearch/newsletter-backend/cms"
	"github.com/openresearch/newsletter-backend/config"
	"github.com/openresearch/newsletter-backend/db"
	"github.com/openresearch/newsletter-backend/email"
	"github.com/openresearch/newsletter-backend/newsletter"
	"github.com/openresearch/newsletter-backend/ratelimit"
	"github.com/openresearch/newsletter-backend/sweeper"
	"github.com/openresearch/newsletter-backend/telemetry"
)

// app is the wired-up service.
type app struct {
	handler    http.Handler
	newsletter *newsletter.Service
	sweeper    *sweeper.Sweeper
	closers    []func() error
}

func (a *app) close() {
	for _, closer := range a.closers {
		if err := closer(); err != nil {
			log.Error().Err(err).Msg("close")
		}
	}
}

// tracedClient propagates trace context to the CMS and email API.
var tracedClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}

// subscriberStore returns the configured store, and the suppression list
// that goes with it.
func subscriberStore(ctx context.Context, cfg config.Config, a *app) (newsletter.SubscriberStore, db.Database, error) {
	switch cfg.SubscriberStore {
	case config.StorePostgres:
		sqldb, err := db.InitSQLDatabase(cfg.DB())
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, sqldb.Close)
		if err := sqldb.EnsureSchema(ctx); err != nil {
			return nil, nil, err
		}
		a.sweeper = &sweeper.Sweeper{Name: "postgres", Store: sqldb, MaxAge: cfg.PendingTTL, Interval: cfg.SweepInterval}
		return sqldb, sqldb, nil
	case config.StoreMemory:
		memdb := db.InitMemDatabase()
		a.sweeper = &sweeper.Sweeper{Name: "memory", Store: memdb, MaxAge: cfg.PendingTTL, Interval: cfg.SweepInterval}
		return memdb, memdb, nil
	}
	client := cms.NewClient(cfg.CMSURL, cfg.CMSAPIToken)
	client.HTTPClient = tracedClient
	// The CMS keeps subscribers; bounces are remembered in Postgres when
	// one is configured.
	if cfg.DatabaseURL != "" || cfg.DBHost != "" {
		sqldb, err := db.InitSQLDatabase(cfg.DB())
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, sqldb.Close)
		if err := sqldb.EnsureSchema(ctx); err != nil {
			return nil, nil, err
		}
		return client, sqldb, nil
	}
	log.Warn().Msg("no database configured, email suppression list is kept in memory")
	return client, db.InitMemDatabase(), nil
}

func emailTransport(cfg config.Config) email.Transport {
	switch cfg.EmailTransport {
	case config.TransportHTTP:
		transport := email.NewHTTPTransport(cfg.EmailAPIURL, cfg.EmailAPIKey)
		transport.HTTPClient = tracedClient
		return transport
	case config.TransportSMTP:
		return &email.SMTPTransport{
			Host:               cfg.SMTPHost,
			Port:               cfg.SMTPPort,
			Username:           cfg.SMTPUsername,
			Password:           cfg.SMTPPassword,
			InsecureSkipVerify: cfg.SMTPInsecure,
		}
	}
	return email.LogTransport{}
}

func subscribeLimiter(ctx context.Context, cfg config.Config, a *app) (ratelimit.Limiter, error) {
	if cfg.RateLimitBackend != config.LimiterRedis {
		return ratelimit.NewMemory(cfg.SubscribeRate()), nil
	}
	client, err := ratelimit.Connect(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, client.Close)
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("redis unreachable, subscriptions won't be rate limited until it is")
	}
	return ratelimit.NewRedis(client, cfg.SubscribeRate()), nil
}

func setup(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{}
	store, suppression, err := subscriberStore(ctx, cfg, a)
	if err != nil {
		a.close()
		return nil, err
	}
	limiter, err := subscribeLimiter(ctx, cfg, a)
	if err != nil {
		a.close()
		return nil, err
	}
	verifier := captcha.NewVerifier(cfg.AltchaHMACKey, cfg.AltchaMaxNumber)
	mailer := email.NewMailer(emailTransport(cfg), cfg.EmailFromAddress, suppression)
	a.newsletter = newsletter.NewService(store, mailer, verifier, limiter, cfg.APIBaseURL)

	server := &api.API{
		Newsletter:         a.newsletter,
		Challenges:         verifier,
		Database:           suppression,
		SiteURL:            cfg.SiteURL,
		AllowedOrigins:     cfg.AllowedOrigins,
		AmazonAuthorizeKey: cfg.AmazonAuthorizeKey,
	}
	a.handler = otelhttp.NewHandler(server.RegisterHandlers(http.NewServeMux()), telemetry.ServiceName)
	return a, nil
}

func setupLogging(development bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if development {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	cfg, err := config.Load(ctx)
	if err != nil {
		setupLogging(true)
		log.Fatal().Err(err).Msg("load config")
	}
	setupLogging(cfg.Development)

	if err := raven.SetDSN(cfg.SentryDSN); err != nil {
		log.Error().Err(err).Msg("set sentry dsn")
	}

	shutdownTracing, err := telemetry.Init(ctx, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("init otel")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown otel")
		}
	}()

	a, err := setup(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("setup")
	}
	defer a.close()

	if a.sweeper != nil {
		go a.sweeper.Run(ctx)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("store", cfg.SubscriberStore).Msg("starting newsletter backend")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown server")
	}
	// Let goodbye emails already in flight finish.
	a.newsletter.Wait()
}
