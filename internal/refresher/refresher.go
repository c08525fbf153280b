package refresher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"admission-gateway/internal/common/logging"
	"admission-gateway/internal/common/utils"
	"admission-gateway/internal/snapshot"
)

// Config holds refresher settings.
type Config struct {
	// Interval between refresh cycles.
	Interval time.Duration
	// StalenessThreshold is the snapshot age that triggers an advisory
	// warning. It never blocks traffic.
	StalenessThreshold time.Duration
}

// Refresher periodically fetches a new snapshot and installs it. Repeated
// failures are logged and retried with backoff inside one cycle; they never
// crash the process or blank out the active snapshot.
type Refresher struct {
	client  *Client
	store   *snapshot.Store
	config  Config
	logger  logging.Logger
	version atomic.Int64

	cron   *cron.Cron
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func New(client *Client, store *snapshot.Store, config Config, logger logging.Logger) *Refresher {
	if config.Interval <= 0 {
		config.Interval = 60 * time.Second
	}
	if config.StalenessThreshold <= 0 {
		config.StalenessThreshold = 5 * time.Minute
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &Refresher{
		client: client,
		store:  store,
		config: config,
		logger: logger.WithFields(logging.Field{Key: "component", Value: "refresher"}),
		done:   make(chan struct{}),
	}
}

// Start launches the refresh loop and the staleness monitor. The first
// fetch happens immediately so a healthy control plane makes the gateway
// ready within one round trip; startup itself never blocks on it.
func (r *Refresher) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	go r.loop(ctx)

	r.cron = cron.New()
	// Advisory only: a stale snapshot keeps serving.
	r.cron.AddFunc("@every 30s", r.checkStaleness)
	r.cron.Start()

	r.logger.Info("Config refresher started",
		logging.Duration("interval", r.config.Interval),
		logging.Duration("staleness_threshold", r.config.StalenessThreshold),
	)
}

// Stop terminates the refresh loop and the staleness monitor.
func (r *Refresher) Stop() {
	r.once.Do(func() {
		if r.cancel != nil {
			r.cancel()
		}
		if r.cron != nil {
			r.cron.Stop()
		}
		<-r.done
	})
}

func (r *Refresher) loop(ctx context.Context) {
	defer close(r.done)

	for {
		r.refreshOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(r.jitteredInterval()):
		}
	}
}

// refreshOnce runs one refresh cycle: fetch with bounded backoff, build a
// candidate snapshot, install. Every failure path keeps the old snapshot.
func (r *Refresher) refreshOnce(ctx context.Context) {
	var entries []*snapshot.ProjectEntry

	retryConfig := utils.RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		JitterFactor:  0.1,
	}

	err := utils.RetryWithBackoff(ctx, retryConfig, func() error {
		var fetchErr error
		entries, fetchErr = r.client.Fetch(ctx)
		return fetchErr
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.logger.Warn("Config refresh failed, retaining previous snapshot",
			logging.Field{Key: "error", Value: err.Error()},
			logging.Duration("snapshot_age", r.store.Age()),
		)
		return
	}

	candidate, err := snapshot.Build(r.version.Add(1), time.Now(), entries)
	if err != nil {
		r.logger.Warn("Fetched config failed validation, retaining previous snapshot",
			logging.Field{Key: "error", Value: err.Error()},
		)
		return
	}

	if err := r.store.Install(candidate); err != nil {
		r.logger.Warn("Snapshot install rejected",
			logging.Field{Key: "error", Value: err.Error()},
		)
		return
	}

	r.logger.Info("Config snapshot installed",
		logging.Int64("version", candidate.Version()),
		logging.Int("projects", candidate.ProjectCount()),
		logging.Int("keys", candidate.KeyCount()),
	)
}

// jitteredInterval spreads refresh cycles across replicas so a fleet does
// not stampede the control plane in lockstep.
func (r *Refresher) jitteredInterval() time.Duration {
	jitter := time.Duration(utils.RandomInt64n(int64(r.config.Interval) / 10))
	return r.config.Interval + jitter
}

// checkStaleness emits an advisory warning when the active snapshot has
// outlived the configured threshold, and when the store has never become
// ready at all.
func (r *Refresher) checkStaleness() {
	if !r.store.Ready() {
		r.logger.Warn("No config snapshot installed yet, all requests are being blocked")
		return
	}

	age := r.store.Age()
	if age > r.config.StalenessThreshold {
		r.logger.Warn("Config snapshot is stale",
			logging.Duration("age", age),
			logging.Duration("threshold", r.config.StalenessThreshold),
		)
	}
}
