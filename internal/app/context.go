// Package app assembles the study context: reference populations, user
// profiles, the result repository, score queries, ResultUpdated delivery and
// background synchronization.
package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/okian/baseline/internal/adapters/mq/queue"
	"github.com/okian/baseline/internal/adapters/mq/worker"
	"github.com/okian/baseline/internal/adapters/notify"
	"github.com/okian/baseline/internal/adapters/remote"
	"github.com/okian/baseline/internal/adapters/repository"
	"github.com/okian/baseline/internal/domain/catalog"
	"github.com/okian/baseline/internal/domain/dedupe"
	"github.com/okian/baseline/internal/domain/matching"
	"github.com/okian/baseline/internal/domain/population"
	"github.com/okian/baseline/internal/domain/profile"
	"github.com/okian/baseline/internal/domain/result"
	"github.com/okian/baseline/internal/domain/scoring"
	"github.com/okian/baseline/pkg/logger"
)

// Resource bundle file names.
const (
	MetricsFile = "metrics.json"
	TestsFile   = "tests.toml"
)

// Context owns everything for one study. Only one Context per study and data
// directory may be open at a time.
type Context struct {
	opts options

	lock       *flock.Flock
	repo       repository.Store
	profiles   *profile.Store
	refs       *population.Store
	matcher    *matching.Matcher
	scorer     *scoring.Scorer
	catalog    *catalog.Catalog
	bus        *notify.Bus
	dispatcher *notify.Dispatcher
	queue      *queue.InMemoryQueue
	pool       *worker.Pool
	client     remote.Client

	// serializes remote installs and polls
	syncMu sync.Mutex
	// serializes cached score writes; held while reading the snapshot
	cacheMu sync.Mutex

	mu     sync.RWMutex
	closed bool
	cancel context.CancelFunc
	bg     sync.WaitGroup

	logger logger.Logger
}

// Open creates the context for one study and starts background activity.
func Open(ctx context.Context, opts ...Option) (*Context, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.studyID == "" {
		return nil, fmt.Errorf("%w: study id is required", ErrInvalidOption)
	}
	if o.resourceDir == "" {
		return nil, fmt.Errorf("%w: resource dir is required", ErrInvalidOption)
	}

	c := &Context{opts: o, logger: o.logger.Named("context").With(logger.String("study", o.studyID))}
	if err := c.open(ctx); err != nil {
		c.release()
		return nil, err
	}
	c.start(ctx)

	c.logger.Info(ctx, "study context opened",
		logger.String("resource_dir", o.resourceDir),
		logger.String("data_dir", o.dataDir),
		logger.String("server", o.server.Name),
		logger.Int("workers", c.pool.Size()),
	)
	return c, nil
}

func (c *Context) open(ctx context.Context) error {
	o := c.opts
	if err := os.MkdirAll(o.dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	c.lock = flock.New(filepath.Join(o.dataDir, o.studyID+".lock"))
	locked, err := c.lock.TryLock()
	if err != nil {
		c.lock = nil
		return fmt.Errorf("lock study %s: %w", o.studyID, err)
	}
	if !locked {
		c.lock = nil
		return fmt.Errorf("%w: %s", ErrContextInUse, o.studyID)
	}

	defs, err := population.LoadFile(filepath.Join(o.resourceDir, MetricsFile))
	if err != nil {
		return err
	}
	c.refs, err = population.NewStore(defs,
		population.WithMinSampleSize(o.minSampleSize),
		population.WithLogger(o.logger.Named("population")),
	)
	if err != nil {
		return err
	}
	c.matcher, err = matching.FromDefinitions(defs, matching.WithClock(o.now))
	if err != nil {
		return err
	}
	c.scorer = scoring.NewScorer(scoring.WithMinSamples(c.refs.Snapshot().MinSampleSize()))

	c.catalog, err = catalog.LoadFile(filepath.Join(o.resourceDir, TestsFile))
	if errors.Is(err, fs.ErrNotExist) {
		c.catalog, err = catalog.New()
	}
	if err != nil {
		return err
	}

	repo, err := repository.OpenSQLite(ctx, filepath.Join(o.dataDir, o.studyID+".db"),
		repository.WithLogger(o.logger.Named("repository")),
		repository.WithClock(o.now),
	)
	if err != nil {
		return err
	}
	c.repo = repo

	replayed, err := repo.ReferenceSamples(ctx)
	if err != nil {
		return err
	}
	if len(replayed) > 0 {
		snap, err := c.refs.AddSamples(ctx, replayed)
		if err != nil {
			return fmt.Errorf("replay reference samples: %w", err)
		}
		c.logger.Info(ctx, "recorded reference samples replayed",
			logger.Int("batches", len(replayed)),
			logger.Int64("version", int64(snap.Version())))
	}

	c.profiles, err = profile.NewStore(ctx,
		profile.WithBackend(repo),
		profile.WithLogger(o.logger.Named("profile")),
	)
	if err != nil {
		return err
	}

	c.client = o.client
	if c.client == nil {
		c.client = remote.NewHTTPClient(o.server, remote.WithLogger(o.logger.Named("remote")))
	}

	c.bus = notify.NewBus(o.logger.Named("notify"))
	c.dispatcher = notify.NewDispatcher(repo, c.bus,
		notify.WithExecutor(o.executor),
		notify.WithDeduper(dedupe.NewInMemoryDeduper[int64](dedupe.WithMaxSize(o.dedupeSize))),
		notify.WithLogger(o.logger.Named("notify")),
	)
	if err := c.dispatcher.Start(ctx); err != nil {
		return err
	}

	c.queue = queue.NewInMemoryQueue(queue.WithCapacity(o.queueSize))
	c.pool = worker.NewPool(o.workerCount, c.queue, &syncer{c: c},
		worker.WithPoolLogger(o.logger.Named("sync")))
	return nil
}

// release undoes a partial open.
func (c *Context) release() {
	if c.dispatcher != nil {
		c.dispatcher.Stop()
	}
	if c.repo != nil {
		_ = c.repo.Close()
	}
	if c.lock != nil {
		_ = c.lock.Unlock()
	}
}

func (c *Context) start(ctx context.Context) {
	bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.pool.Start(bg)

	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		c.background(bg)
	}()
}

// StudyID returns the study identifier.
func (c *Context) StudyID() string { return c.opts.studyID }

// ResourceDir returns the resource bundle directory.
func (c *Context) ResourceDir() string { return c.opts.resourceDir }

// ServerInfo returns the remote deployment this context syncs with.
func (c *Context) ServerInfo() remote.ServerInfo { return c.opts.server }

// AppInstallID returns the identifier issued by the server. It is empty
// until the first successful authorization.
func (c *Context) AppInstallID(ctx context.Context) (string, error) {
	if err := c.check(); err != nil {
		return "", err
	}
	id, _, err := c.repo.InstallID(ctx)
	return id, err
}

// IsUserDataSynced reports whether every result has been acknowledged.
func (c *Context) IsUserDataSynced(ctx context.Context) (bool, error) {
	if err := c.check(); err != nil {
		return false, err
	}
	st, err := c.repo.Stats(ctx)
	if err != nil {
		return false, err
	}
	return st.Unsynced == 0, nil
}

// PauseBackgroundActivity stops sync workers from picking up jobs. Local
// reads and writes are unaffected.
func (c *Context) PauseBackgroundActivity() {
	c.pool.Pause()
	c.logger.Info(context.Background(), "background activity paused")
}

// ResumeBackgroundActivity lets sync workers run again.
func (c *Context) ResumeBackgroundActivity() {
	c.pool.Resume()
	c.logger.Info(context.Background(), "background activity resumed")
}

// IsBackgroundActivityPaused reports the pause flag.
func (c *Context) IsBackgroundActivityPaused() bool { return c.pool.Paused() }

// NewUser creates a user. It fails with profile.ErrUserExists.
func (c *Context) NewUser(ctx context.Context, name string) (profile.User, error) {
	if err := c.check(); err != nil {
		return profile.User{}, err
	}
	return c.profiles.NewUser(ctx, name)
}

// ExistingUser returns a user. It fails with profile.ErrUserNotFound.
func (c *Context) ExistingUser(ctx context.Context, name string) (profile.User, error) {
	if err := c.check(); err != nil {
		return profile.User{}, err
	}
	return c.profiles.ExistingUser(ctx, name)
}

// Users lists user names in order.
func (c *Context) Users() []string { return c.profiles.Users() }

// SetUserProperty stores a JSON-compatible value; nil clears the key.
func (c *Context) SetUserProperty(ctx context.Context, user, key string, value any) error {
	if err := c.check(); err != nil {
		return err
	}
	v, err := profile.ValueOf(value)
	if err != nil {
		return err
	}
	return c.profiles.SetProperty(ctx, user, key, v)
}

// UserProperty returns a property and whether it is set.
func (c *Context) UserProperty(ctx context.Context, user, key string) (profile.Value, bool, error) {
	if err := c.check(); err != nil {
		return profile.Value{}, false, err
	}
	return c.profiles.Property(ctx, user, key)
}

// UserProperties returns a copy of all of a user's properties.
func (c *Context) UserProperties(ctx context.Context, user string) (profile.Properties, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.profiles.Properties(ctx, user)
}

// CreateResult stores a completed test for an existing user and schedules
// its upload. Provisional scores are cached without notification.
func (c *Context) CreateResult(ctx context.Context, user string, t result.Telemetry, ts time.Time) (result.ID, error) {
	if err := c.check(); err != nil {
		return result.ID{}, err
	}
	if err := t.Validate(); err != nil {
		return result.ID{}, err
	}
	if _, err := c.profiles.ExistingUser(ctx, user); err != nil {
		return result.ID{}, err
	}
	if ts.IsZero() {
		ts = c.opts.now()
	}

	id, err := c.repo.CreateResult(ctx, user, t, ts)
	if err != nil {
		return result.ID{}, err
	}

	c.prime(ctx, id)
	c.enqueueUpload(ctx, id)
	return id, nil
}

// Result returns a stored result. It fails with repository.ErrNotFound.
func (c *Context) Result(ctx context.Context, id result.ID) (result.Result, error) {
	if err := c.check(); err != nil {
		return result.Result{}, err
	}
	return c.repo.Lookup(ctx, id)
}

// AllResultIDs lists a user's results in creation order.
func (c *Context) AllResultIDs(ctx context.Context, user string) ([]result.ID, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	if _, err := c.profiles.ExistingUser(ctx, user); err != nil {
		return nil, err
	}
	return c.repo.AllResultIDs(ctx, user)
}

// Tests lists the psych tests in the resource bundle.
func (c *Context) Tests() []catalog.Info { return c.catalog.All() }

// TestsFor lists tests runnable on idiom.
func (c *Context) TestsFor(idiom catalog.Idiom) []catalog.Info { return c.catalog.Available(idiom) }

// Test returns one test. It fails with catalog.ErrTestNotFound.
func (c *Context) Test(name string) (catalog.Info, error) { return c.catalog.Named(name) }

// Subscribe registers l for ResultUpdated events. Cancel the registration
// to stop delivery.
func (c *Context) Subscribe(l notify.Listener) *notify.Registration {
	return c.bus.Subscribe(l)
}

// FlushNotifications delivers every committed update and returns.
func (c *Context) FlushNotifications(ctx context.Context) error {
	return c.dispatcher.Flush(ctx)
}

// Stats describes the context's state.
type Stats struct {
	repository.Stats
	StudyID          string `json:"study_id"`
	Server           string `json:"server"`
	QueueLength      int    `json:"queue_length"`
	Workers          int    `json:"workers"`
	Paused           bool   `json:"paused"`
	ReferenceVersion uint64 `json:"reference_version"`
	Listeners        int    `json:"listeners"`
}

// Stats returns a snapshot of context counters.
func (c *Context) Stats(ctx context.Context) (Stats, error) {
	if err := c.check(); err != nil {
		return Stats{}, err
	}
	st, err := c.repo.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Stats:            st,
		StudyID:          c.opts.studyID,
		Server:           c.opts.server.Name,
		QueueLength:      c.queue.Len(ctx),
		Workers:          c.pool.Size(),
		Paused:           c.pool.Paused(),
		ReferenceVersion: c.refs.Snapshot().Version(),
		Listeners:        c.bus.Len(),
	}, nil
}

// Close stops background activity, flushes pending notifications and
// releases the study lock. It is idempotent.
func (c *Context) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.bg.Wait()

	var errs []error
	if err := c.pool.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := c.dispatcher.Flush(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flush notifications: %w", err))
	}
	c.dispatcher.Stop()
	if err := c.repo.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close repository: %w", err))
	}
	if err := c.lock.Unlock(); err != nil {
		errs = append(errs, fmt.Errorf("unlock study: %w", err))
	}

	c.logger.Info(ctx, "study context closed")
	return errors.Join(errs...)
}

func (c *Context) check() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	return nil
}
