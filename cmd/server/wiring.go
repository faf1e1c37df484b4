package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"consentledger/internal/audit"
	consentHandler "consentledger/internal/consent/handler"
	consentMetrics "consentledger/internal/consent/metrics"
	"consentledger/internal/consent/service"
	"consentledger/internal/consent/store"
	jwttoken "consentledger/internal/jwt_token"
	"consentledger/internal/ledger"
	"consentledger/internal/ledger/algod"
	"consentledger/internal/ledger/confirm"
	"consentledger/internal/ledger/memledger"
	"consentledger/internal/ledger/signer"
	"consentledger/internal/ledger/txbuilder"
	"consentledger/internal/notify"
	"consentledger/internal/platform/config"
	"consentledger/internal/platform/database"
	"consentledger/internal/platform/health"
	redisclient "consentledger/internal/platform/redis"
	"consentledger/internal/platform/tracer"
	httptransport "consentledger/internal/transport/http"
	"consentledger/migrations"
	id "consentledger/pkg/domain"
	"consentledger/pkg/platform/circuit"
	"consentledger/pkg/platform/middleware/request"
)

const poolStatsInterval = 15 * time.Second

// application holds everything main needs to serve and to tear down.
type application struct {
	log      *slog.Logger
	registry *prometheus.Registry
	health   *health.Handler
	handler  *consentHandler.Handler
	tokens   *jwttoken.JWTService
	signers  []id.Address

	closeOnce sync.Once
	closers   []func()
}

func (a *application) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// close runs the registered closers in reverse order, once.
func (a *application) close() {
	a.closeOnce.Do(func() {
		for i := len(a.closers) - 1; i >= 0; i-- {
			a.closers[i]()
		}
	})
}

func (a *application) routerDeps(cfg config.Server) httptransport.Deps {
	return httptransport.Deps{
		Logger:      a.log,
		Consent:     a.handler,
		Health:      a.health,
		Validator:   a.tokens,
		Metrics:     request.NewMetrics(a.registry),
		Gatherer:    a.registry,
		Timeout:     cfg.Timeout,
		MaxBodySize: cfg.MaxBodySize,
		TrustProxy:  cfg.TrustProxy,
	}
}

func build(ctx context.Context, cfg config.Server, log *slog.Logger) (_ *application, err error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	app := &application{
		log:      log,
		registry: reg,
		health:   health.New(cfg.Environment),
	}
	defer func() {
		if err != nil {
			app.close()
		}
	}()

	tr := tracer.Tracer(tracer.NewNoop())
	if cfg.Tracing.Enabled {
		tr = tracer.NewOTel()
	}

	keyring := signer.NewKeyring()
	for _, seed := range cfg.Ledger.SignerSeeds {
		addr, err := keyring.AddSeed(seed)
		if err != nil {
			return nil, fmt.Errorf("load signer seed: %w", err)
		}
		app.signers = append(app.signers, addr)
	}

	chain, err := buildLedger(cfg.Ledger, log, tr)
	if err != nil {
		return nil, err
	}
	app.health.RegisterCheck("ledger", func(ctx context.Context) error {
		_, err := chain.SubmissionParams(ctx)
		return err
	})

	pool, err := database.New(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if pool != nil {
		app.onClose(func() { _ = pool.Close() })
		app.health.RegisterCheck("database", pool.Health)
		if err := pool.RegisterMetrics(reg); err != nil {
			return nil, err
		}
		if err := migrations.Up(ctx, pool.DB()); err != nil {
			return nil, err
		}
	}

	consents, err := buildStore(ctx, cfg, pool, log)
	if err != nil {
		return nil, err
	}
	if closer, ok := consents.(interface{ Close() error }); ok {
		app.onClose(func() { _ = closer.Close() })
	}

	idem, err := buildIdempotency(ctx, app, cfg, reg)
	if err != nil {
		return nil, err
	}

	coordinator := confirm.New(chain, keyring,
		confirm.WithPollInterval(cfg.Ledger.PollInterval),
		confirm.WithMaxPolls(cfg.Ledger.MaxPolls),
		confirm.WithOptimisticAfter(cfg.Ledger.OptimisticAfter),
		confirm.WithIdempotencyStore(idem),
		confirm.WithLogger(log),
		confirm.WithMetrics(confirm.NewMetrics(reg)),
		confirm.WithTracer(tr),
	)

	var auditStore audit.Store = audit.NewInMemoryStore()
	if pool != nil {
		auditStore = audit.NewPostgresStore(pool.DB())
	}
	auditor := audit.NewPublisher(auditStore,
		audit.WithAsyncBuffer(cfg.Consent.AuditBuffer),
		audit.WithPublisherLogger(log),
	)
	app.onClose(auditor.Close)

	dispatcher, err := buildDispatcher(ctx, app, cfg, reg, log)
	if err != nil {
		return nil, err
	}

	svc := service.New(consents, coordinator, txbuilder.New(cfg.Ledger.AppID),
		service.WithAuditor(auditor),
		service.WithNotifier(dispatcher),
		service.WithMetrics(consentMetrics.New(reg)),
		service.WithLogger(log),
		service.WithViewLogging(cfg.Consent.ViewLogging),
		service.WithBulkConcurrency(cfg.Consent.BulkConcurrency),
	)
	app.handler = consentHandler.New(svc, log)

	app.tokens = jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer, cfg.Auth.Audience, cfg.Auth.TokenTTL)
	app.tokens.SetEnv(cfg.Environment)
	return app, nil
}

func buildLedger(cfg config.LedgerConfig, log *slog.Logger, tr tracer.Tracer) (ledger.Ledger, error) {
	switch cfg.Mode {
	case config.LedgerAlgod:
		return algod.New(algod.Config{
			BaseURL:           cfg.URL,
			Token:             cfg.Token,
			Timeout:           cfg.RequestTimeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
		},
			algod.WithLogger(log),
			algod.WithTracer(tr),
			algod.WithBreaker(circuit.New("algod")),
		)
	default:
		log.Warn("using the in-memory ledger; transactions are not durable")
		return memledger.New(memledger.WithConfirmAfter(2)), nil
	}
}

func buildStore(ctx context.Context, cfg config.Server, pool *database.Pool, log *slog.Logger) (service.Store, error) {
	switch cfg.Consent.Store {
	case config.StorePostgres:
		if pool == nil {
			return nil, fmt.Errorf("postgres store requires a database")
		}
		return store.NewPostgres(pool.DB()), nil
	case config.StoreSQLite:
		key, err := cfg.FieldKey()
		if err != nil {
			return nil, err
		}
		return store.NewSQLite(ctx, cfg.Consent.SQLitePath, key, store.WithSQLiteLogger(log))
	default:
		return store.New(), nil
	}
}

// buildIdempotency shares submission state through redis when configured so
// every replica sees the same correlation ids.
func buildIdempotency(ctx context.Context, app *application, cfg config.Server, reg prometheus.Registerer) (confirm.IdempotencyStore, error) {
	client, err := redisclient.New(ctx, cfg.Redis, redisclient.NewPoolMetrics(reg))
	if err != nil {
		return nil, err
	}
	if client == nil {
		mem := confirm.NewInMemory(cfg.Ledger.SubmissionTTL)
		cleanupCtx, cancel := context.WithCancel(context.Background())
		go mem.RunCleanup(cleanupCtx, time.Minute)
		app.onClose(cancel)
		return mem, nil
	}

	app.onClose(func() { _ = client.Close() })
	app.health.RegisterCheck("redis", client.Health)

	statsCtx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(poolStatsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-statsCtx.Done():
				return
			case <-ticker.C:
				client.RecordPoolStats()
			}
		}
	}()
	app.onClose(cancel)
	return confirm.NewRedis(client, cfg.Ledger.SubmissionTTL), nil
}

func buildDispatcher(ctx context.Context, app *application, cfg config.Server, reg prometheus.Registerer, log *slog.Logger) (*notify.Dispatcher, error) {
	sinks := []notify.Sink{notify.NewLogSink(log)}
	var kafkaSink *notify.KafkaSink
	if cfg.Kafka.Brokers != "" {
		var err error
		kafkaSink, err = notify.NewKafkaSink(notify.KafkaConfig{
			Brokers:         cfg.Kafka.Brokers,
			Topic:           cfg.Kafka.Topic,
			Acks:            cfg.Kafka.Acks,
			Retries:         cfg.Kafka.Retries,
			DeliveryTimeout: cfg.Kafka.DeliveryTimeout,
		}, log)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, kafkaSink)
		app.health.RegisterCheck("kafka", kafkaSink.Ping)

		topicCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := kafkaSink.EnsureTopic(topicCtx, cfg.Kafka.Partitions); err != nil {
			log.Warn("kafka topic not ensured; relying on auto-creation", "topic", cfg.Kafka.Topic, "error", err)
		}
		cancel()
	}

	dispatcher := notify.NewDispatcher(sinks,
		notify.WithBuffer(cfg.Consent.NotifyBuffer),
		notify.WithLogger(log),
		notify.WithMetrics(notify.NewMetrics(reg)),
	)
	// the dispatcher drains into the sink, so it closes first
	if kafkaSink != nil {
		app.onClose(kafkaSink.Close)
	}
	app.onClose(dispatcher.Close)
	return dispatcher, nil
}
