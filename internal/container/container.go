package container

import (
	"context"
	"fmt"
	"strings"

	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/bradfitz/gomemcache/memcache"
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	_ "github.com/danielgtaylor/huma/v2/formats/cbor" // CBOR format support for huma
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jaevor/go-nanoid"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
	"github.com/serroba/ratelimit-gateway/internal/gateway"
	"github.com/serroba/ratelimit-gateway/internal/handlers"
	"github.com/serroba/ratelimit-gateway/internal/health"
	"github.com/serroba/ratelimit-gateway/internal/incident"
	incidentstore "github.com/serroba/ratelimit-gateway/internal/incident/store"
	"github.com/serroba/ratelimit-gateway/internal/messaging"
	"github.com/serroba/ratelimit-gateway/internal/metrics"
	"github.com/serroba/ratelimit-gateway/internal/middleware"
	"github.com/serroba/ratelimit-gateway/internal/ratelimit"
	"github.com/serroba/ratelimit-gateway/internal/store"
	"go.uber.org/zap"
)

// Counter store backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendMemcache = "memcache"
)

// ConsumerGroupName is the Redis stream consumer group incidents are read with.
const ConsumerGroupName = "ratelimit-incidents"

const incidentIDLength = 21

type Options struct {
	Port               int    `default:"8888"                  help:"Port to listen on"                                   short:"p"`
	Upstream           string `default:"http://localhost:8080" help:"Upstream URL requests are proxied to"                short:"u"`
	Backend            string `default:"memory"                help:"Counter store backend: memory, redis or memcache"   short:"b"`
	RedisAddr          string `default:"localhost:6379"        help:"Redis server address"                                short:"r"`
	MemcacheAddr       string `default:"localhost:11211"       help:"Comma separated memcached server addresses"`
	WindowMinutes      int    `default:"2"                     help:"Global policy window in minutes"`
	MaxRequests        int64  `default:"20"                    help:"Global policy: this request within the window is denied"`
	LoginPath          string `default:"/login"                help:"Path additionally guarded by the login policy, empty to disable"`
	LoginField         string `default:"username"              help:"Submitted field the login policy keys on"`
	LoginWindowMinutes int    `default:"5"                     help:"Login policy window in minutes"`
	LoginMaxRequests   int64  `default:"5"                     help:"Login policy: this request within the window is denied"`
	TrustProxy         bool   `default:"false"                 help:"Take the client address from X-Forwarded-For/X-Real-IP"`
	FailureMode        string `default:"open"                  help:"Behaviour when the counter store fails: open or closed"`
	LogFormat          string `default:"json"                  help:"Log format: json or console"`
	Incidents          bool   `default:"false"                 help:"Publish denial incidents to a Redis stream"`
	IncidentRate       int    `default:"10"                    help:"Max incidents published per second, 0 for no cap"`
	IncidentBurst      int    `default:"20"                    help:"Incident publishing burst"`
	PostgresDSN        string `default:""                      help:"PostgreSQL DSN incidents are stored in (consumer)"`
}

// RedisConn is the shared Redis client. It is closed on injector shutdown.
type RedisConn struct {
	*redis.Client
}

// Shutdown closes the client.
func (c *RedisConn) Shutdown() error {
	return c.Close()
}

// PostgresConn is the shared connection pool. It is closed on injector shutdown.
type PostgresConn struct {
	*pgxpool.Pool
}

// Shutdown closes the pool.
func (c *PostgresConn) Shutdown() error {
	c.Close()

	return nil
}

// CounterStore is the configured counter backend and its health probe.
type CounterStore struct {
	Backend string
	Store   ratelimit.Store
	Health  health.Checker
}

// Limiters holds the mounted limiters. Login is nil when no login path is configured.
type Limiters struct {
	Global *ratelimit.Limiter
	Login  *ratelimit.Limiter
}

// All returns the configured limiters, login first.
func (l *Limiters) All() []*ratelimit.Limiter {
	if l.Login == nil {
		return []*ratelimit.Limiter{l.Global}
	}

	return []*ratelimit.Limiter{l.Login, l.Global}
}

func LoggerPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*zap.Logger, error) {
		opts := do.MustInvoke[*Options](i)

		if opts.LogFormat == "console" {
			return zap.NewDevelopment()
		}

		return zap.NewProduction()
	})
}

func RedisPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*RedisConn, error) {
		opts := do.MustInvoke[*Options](i)

		return &RedisConn{Client: redis.NewClient(&redis.Options{Addr: opts.RedisAddr})}, nil
	})
}

func PostgresPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*PostgresConn, error) {
		opts := do.MustInvoke[*Options](i)

		pool, err := pgxpool.New(context.Background(), opts.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}

		return &PostgresConn{Pool: pool}, nil
	})
}

func CounterStorePackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*CounterStore, error) {
		opts := do.MustInvoke[*Options](i)

		switch opts.Backend {
		case BackendMemory:
			return &CounterStore{
				Backend: BackendMemory,
				Store:   store.NewCounterMemoryStore(),
				Health:  health.AlwaysHealthy,
			}, nil
		case BackendRedis:
			conn := do.MustInvoke[*RedisConn](i)
			counters := store.NewCounterRedisStore(conn.Client)

			return &CounterStore{Backend: BackendRedis, Store: counters, Health: counters}, nil
		case BackendMemcache:
			client := memcache.New(strings.Split(opts.MemcacheAddr, ",")...)
			counters := store.NewCounterMemcacheStore(client)

			return &CounterStore{Backend: BackendMemcache, Store: counters, Health: counters}, nil
		default:
			return nil, fmt.Errorf("unknown counter store backend %q", opts.Backend)
		}
	})
}

func RateLimitPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*Limiters, error) {
		opts := do.MustInvoke[*Options](i)
		counters := do.MustInvoke[*CounterStore](i)

		mode, err := ratelimit.ParseFailureMode(opts.FailureMode)
		if err != nil {
			return nil, err
		}

		globalPolicy := ratelimit.DefaultPolicy()
		globalPolicy.Name = "global"
		globalPolicy.WindowMinutes = opts.WindowMinutes
		globalPolicy.MaxRequests = opts.MaxRequests

		global, err := ratelimit.NewLimiter(counters.Store, globalPolicy, ratelimit.WithFailureMode(mode))
		if err != nil {
			return nil, fmt.Errorf("global policy: %w", err)
		}

		limiters := &Limiters{Global: global}

		if opts.LoginPath != "" {
			loginPolicy := ratelimit.SubmitPolicy(opts.LoginField)
			loginPolicy.Name = "login"
			loginPolicy.KeyPrefix = ratelimit.DefaultKeyPrefix + "login-"
			loginPolicy.WindowMinutes = opts.LoginWindowMinutes
			loginPolicy.MaxRequests = opts.LoginMaxRequests

			limiters.Login, err = ratelimit.NewLimiter(counters.Store, loginPolicy, ratelimit.WithFailureMode(mode))
			if err != nil {
				return nil, fmt.Errorf("login policy: %w", err)
			}
		}

		return limiters, nil
	})
}

func MetricsPackage(i *do.Injector) {
	do.Provide(i, func(_ *do.Injector) (*metrics.Recorder, error) {
		return metrics.NewRecorder(), nil
	})
}

func PublisherGroupPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*messaging.PublisherGroup, error) {
		conn := do.MustInvoke[*RedisConn](i)
		logger := do.MustInvoke[*zap.Logger](i)

		publisher, err := redisstream.NewPublisher(redisstream.PublisherConfig{
			Client:     conn.Client,
			Marshaller: redisstream.DefaultMarshallerUnmarshaller{},
		}, messaging.NewZapLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("create incident publisher: %w", err)
		}

		return messaging.NewPublisherGroup(publisher), nil
	})
}

func IncidentPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*incident.Reporter, error) {
		opts := do.MustInvoke[*Options](i)
		logger := do.MustInvoke[*zap.Logger](i)
		group := do.MustInvoke[*messaging.PublisherGroup](i)

		newID, err := nanoid.Standard(incidentIDLength)
		if err != nil {
			return nil, err
		}

		publish := messaging.NewPublishFunc[incident.DeniedEvent](group.Publisher(), incident.TopicDenied)

		return incident.NewReporter(publish, newID, float64(opts.IncidentRate), opts.IncidentBurst, logger), nil
	})
}

// IncidentStorePackage stores incidents in PostgreSQL when a DSN is configured and
// only logs them otherwise.
func IncidentStorePackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (incident.Store, error) {
		opts := do.MustInvoke[*Options](i)
		logger := do.MustInvoke[*zap.Logger](i)

		if opts.PostgresDSN == "" {
			return incidentstore.NewNoop(logger), nil
		}

		conn := do.MustInvoke[*PostgresConn](i)
		incidents := store.NewIncidentPostgresStore(conn.Pool)

		if err := incidents.EnsureSchema(context.Background()); err != nil {
			return nil, fmt.Errorf("create incident schema: %w", err)
		}

		return incidents, nil
	})
}

func ConsumerGroupPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*messaging.ConsumerGroup, error) {
		conn := do.MustInvoke[*RedisConn](i)
		logger := do.MustInvoke[*zap.Logger](i)
		incidents := do.MustInvoke[incident.Store](i)

		subscriber, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{
			Client:        conn.Client,
			Unmarshaller:  redisstream.DefaultMarshallerUnmarshaller{},
			ConsumerGroup: ConsumerGroupName,
		}, messaging.NewZapLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("create incident subscriber: %w", err)
		}

		group := messaging.NewConsumerGroup(subscriber, logger)
		group.Add(messaging.NewConsumer[incident.DeniedEvent](
			subscriber,
			incident.TopicDenied,
			incident.Persist(incidents),
			logger,
		))

		return group, nil
	})
}

// HTTPPackage provides the router and the API. Invoking huma.API registers every route:
// health, usage and metrics are served directly, everything else is proxied behind
// the rate limit middleware.
func HTTPPackage(i *do.Injector) {
	do.Provide(i, func(_ *do.Injector) (*chi.Mux, error) {
		router := chi.NewMux()
		router.Use(chimiddleware.Recoverer)

		return router, nil
	})

	do.Provide(i, func(i *do.Injector) (huma.API, error) {
		opts := do.MustInvoke[*Options](i)
		logger := do.MustInvoke[*zap.Logger](i)
		router := do.MustInvoke[*chi.Mux](i)
		counters := do.MustInvoke[*CounterStore](i)
		limiters := do.MustInvoke[*Limiters](i)
		recorder := do.MustInvoke[*metrics.Recorder](i)

		api := humachi.New(router, huma.DefaultConfig("Rate Limit Gateway", "1.0.0"))

		health.RegisterRoutes(api, health.NewHandler(counters.Backend, counters.Health))
		handlers.RegisterRoutes(api, handlers.NewUsageHandler(logger, limiters.All()...))
		router.Handle("/metrics", recorder.Handler())

		proxy, err := gateway.NewReverseProxy(opts.Upstream, logger)
		if err != nil {
			return nil, err
		}

		mwOpts := []middleware.Option{middleware.WithObserver(recorder)}
		if opts.TrustProxy {
			mwOpts = append(mwOpts, middleware.WithTrustedProxyHeaders())
		}

		if opts.Incidents {
			mwOpts = append(mwOpts, middleware.WithReporter(do.MustInvoke[*incident.Reporter](i)))
		}

		if limiters.Login != nil {
			login := ratelimit.NewGroup(limiters.Login, limiters.Global)
			router.With(middleware.RateLimit(login, logger, mwOpts...)).Handle(opts.LoginPath, proxy)
		}

		router.With(middleware.RateLimit(limiters.Global, logger, mwOpts...)).Handle("/*", proxy)

		return api, nil
	})
}

// RegisterGateway wires every package the gateway needs.
func RegisterGateway(i *do.Injector, options *Options) {
	do.ProvideValue(i, options)
	LoggerPackage(i)
	RedisPackage(i)
	CounterStorePackage(i)
	RateLimitPackage(i)
	MetricsPackage(i)
	PublisherGroupPackage(i)
	IncidentPackage(i)
	HTTPPackage(i)
}

// RegisterConsumer wires every package the incident consumer needs.
func RegisterConsumer(i *do.Injector, options *Options) {
	do.ProvideValue(i, options)
	LoggerPackage(i)
	RedisPackage(i)
	PostgresPackage(i)
	IncidentStorePackage(i)
	ConsumerGroupPackage(i)
}
