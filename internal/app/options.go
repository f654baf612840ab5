package app

import (
	"runtime"
	"time"

	"github.com/okian/baseline/internal/adapters/notify"
	"github.com/okian/baseline/internal/adapters/remote"
	"github.com/okian/baseline/internal/config"
	"github.com/okian/baseline/pkg/logger"
)

type options struct {
	studyID       string
	resourceDir   string
	dataDir       string
	server        remote.ServerInfo
	client        remote.Client
	minSampleSize int
	queueSize     int
	workerCount   int
	dedupeSize    int
	syncInterval  time.Duration
	sweepInterval time.Duration
	executor      notify.Executor
	now           func() time.Time
	logger        logger.Logger
}

func defaultOptions() options {
	return options{
		dataDir:       ".",
		server:        remote.Default(),
		queueSize:     10_000,
		workerCount:   runtime.NumCPU(),
		dedupeSize:    50_000,
		syncInterval:  30 * time.Second,
		sweepInterval: time.Minute,
		now:           time.Now,
		logger:        logger.Discard(),
	}
}

// Option applies a configuration option to Open.
type Option func(*options)

// FromConfig copies every setting from cfg. Later options override it.
func FromConfig(cfg *config.Config) Option {
	return func(o *options) {
		if cfg == nil {
			return
		}
		o.studyID = cfg.StudyID
		o.resourceDir = cfg.ResourceDir
		if cfg.DataDir != "" {
			o.dataDir = cfg.DataDir
		}
		if info, err := remote.ForName(cfg.Server, cfg.ServerURL); err == nil {
			o.server = info
		}
		o.minSampleSize = cfg.MinSampleSize
		if cfg.QueueSize > 0 {
			o.queueSize = cfg.QueueSize
		}
		if cfg.WorkerCount > 0 {
			o.workerCount = cfg.WorkerCount
		}
		if cfg.DedupeSize > 0 {
			o.dedupeSize = cfg.DedupeSize
		}
		if iv := cfg.SyncInterval(); iv > 0 {
			o.syncInterval = iv
		}
		if iv := cfg.SweepInterval(); iv > 0 {
			o.sweepInterval = iv
		}
	}
}

// WithStudyID sets the study identifier.
func WithStudyID(id string) Option {
	return func(o *options) { o.studyID = id }
}

// WithResourceDir sets the directory holding metrics.json and tests.toml.
func WithResourceDir(dir string) Option {
	return func(o *options) { o.resourceDir = dir }
}

// WithDataDir sets where the database and lock file live.
func WithDataDir(dir string) Option {
	return func(o *options) {
		if dir != "" {
			o.dataDir = dir
		}
	}
}

// WithServer selects the remote deployment.
func WithServer(info remote.ServerInfo) Option {
	return func(o *options) { o.server = info }
}

// WithRemote replaces the HTTP client built from the server info.
func WithRemote(c remote.Client) Option {
	return func(o *options) { o.client = c }
}

// WithMinSampleSize overrides the distribution size threshold.
func WithMinSampleSize(n int) Option {
	return func(o *options) { o.minSampleSize = n }
}

// WithQueueSize sets the sync queue capacity.
func WithQueueSize(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.queueSize = size
		}
	}
}

// WithWorkerCount sets the number of sync workers.
func WithWorkerCount(count int) Option {
	return func(o *options) {
		if count > 0 {
			o.workerCount = count
		}
	}
}

// WithDedupeSize bounds the notification deduper.
func WithDedupeSize(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.dedupeSize = size
		}
	}
}

// WithSyncInterval sets how often updates are polled. Zero disables polling.
func WithSyncInterval(iv time.Duration) Option {
	return func(o *options) { o.syncInterval = iv }
}

// WithSweepInterval sets how often unsynced results are re-queued. Zero
// disables the sweeper.
func WithSweepInterval(iv time.Duration) Option {
	return func(o *options) { o.sweepInterval = iv }
}

// WithExecutor sets where ResultUpdated listeners run.
func WithExecutor(e notify.Executor) Option {
	return func(o *options) { o.executor = e }
}

// WithClock sets the time source for timestamps and age bands.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the context logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
