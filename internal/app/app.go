package app

import (
	"context"
	"strconv"
	"time"

	"admission-gateway/internal/circuitbreaker"
	"admission-gateway/internal/common/logging"
	"admission-gateway/internal/config"
	"admission-gateway/internal/decision"
	"admission-gateway/internal/pipeline"
	"admission-gateway/internal/proxy"
	"admission-gateway/internal/ratelimit"
	"admission-gateway/internal/redis"
	"admission-gateway/internal/refresher"
	"admission-gateway/internal/risk"
	"admission-gateway/internal/snapshot"
	"admission-gateway/internal/trafficlog"
)

// App holds all the gateway dependencies
type App struct {
	Config        *config.Config
	RedisClient   *redis.Client
	SnapshotStore *snapshot.Store
	Refresher     *refresher.Refresher
	Limiter       *ratelimit.Limiter
	Engine        *decision.Engine
	Pipeline      *pipeline.Pipeline
	Dispatcher    *proxy.Dispatcher
	Emitter       *trafficlog.Emitter
	Logger        logging.Logger
}

// New creates a new gateway instance with all dependencies wired.
//
// The snapshot store starts empty: the gateway serves immediately and
// fail-closes every request until the refresher installs the first snapshot.
func New(cfg *config.Config) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "app"}),
	}

	if err := app.initializeRedis(); err != nil {
		// The limiter fail-closes when the store is unreachable, so a Redis
		// outage at boot degrades to blocking traffic rather than crashing.
		app.Logger.Warn("Redis initialization failed, limiter will fail closed",
			logging.Field{Key: "error", Value: err.Error()})
	}

	app.SnapshotStore = snapshot.NewStore()

	app.initializeLimiter()
	app.initializeEngine()
	app.Pipeline = pipeline.New(app.SnapshotStore, app.Limiter, app.Engine)

	app.Dispatcher = proxy.NewDispatcher(proxy.Config{
		Timeout: cfg.UpstreamTimeout,
	}, app.Logger)

	app.initializeRefresher()

	if cfg.TrafficLogEnabled {
		app.Emitter = trafficlog.NewEmitter(trafficlog.Config{
			BaseURL: cfg.ControlAPIBaseURL,
			Secret:  cfg.ControlWorkerSecret,
		}, app.Logger)
	}

	return app, nil
}

func (app *App) initializeRedis() error {
	db, _ := strconv.Atoi(app.Config.RedisDB)
	poolSize, _ := strconv.Atoi(app.Config.RedisPoolSize)

	client, err := redis.NewClient(&redis.Config{
		Address:  app.Config.RedisAddress,
		Password: app.Config.RedisPassword,
		DB:       db,
		PoolSize: poolSize,
	})
	if err != nil {
		return err
	}

	app.RedisClient = client
	app.Logger.Info("Connected to Redis", logging.String("address", app.Config.RedisAddress))
	return nil
}

func (app *App) initializeLimiter() {
	limit, _ := strconv.Atoi(app.Config.RateLimitDefault)
	window, _ := time.ParseDuration(app.Config.RateLimitWindow)
	burst, _ := strconv.Atoi(app.Config.RateLimitBurst)

	app.Limiter = ratelimit.NewLimiter(app.RedisClient, &ratelimit.Config{
		DefaultPolicy: snapshot.RateLimitPolicy{
			RequestsPerWindow: limit,
			Window:            window,
			Burst:             burst,
		},
		Timeout: app.Config.RateLimitTimeout,
	})
}

func (app *App) initializeEngine() {
	scorer := risk.NewHeuristicScorer()
	app.Engine = decision.NewEngine(scorer, app.Config.RiskBlockThreshold)

	app.Logger.Info("Decision engine initialized",
		logging.String("scorer", app.Engine.ScorerName()),
		logging.Int("block_threshold", app.Config.RiskBlockThreshold),
	)
}

func (app *App) initializeRefresher() {
	breaker := circuitbreaker.New("control-plane", circuitbreaker.ControlPlaneConfig, app.Logger)

	client := refresher.NewClient(refresher.ClientConfig{
		BaseURL: app.Config.ControlAPIBaseURL,
		Secret:  app.Config.ControlWorkerSecret,
		Timeout: app.Config.ConfigFetchTimeout,
	}, breaker)

	app.Refresher = refresher.New(client, app.SnapshotStore, refresher.Config{
		Interval:           app.Config.ConfigRefreshInterval,
		StalenessThreshold: app.Config.ConfigStalenessThreshold,
	}, app.Logger)
}

// Start launches the background workers.
func (app *App) Start() {
	app.Refresher.Start()
	if app.Emitter != nil {
		app.Emitter.Start()
	}
}

// Shutdown gracefully shuts down the gateway's background workers.
func (app *App) Shutdown(ctx context.Context) error {
	if app.Refresher != nil {
		app.Refresher.Stop()
		app.Logger.Info("Config refresher stopped")
	}

	if app.Emitter != nil {
		app.Emitter.Stop()
		app.Logger.Info("Traffic emitter stopped")
	}

	if app.RedisClient != nil {
		if err := app.RedisClient.Close(); err != nil {
			app.Logger.Warn("Error closing Redis client", logging.Field{Key: "error", Value: err})
		}
	}

	return nil
}
