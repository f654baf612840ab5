package profile

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/okian/baseline/pkg/logger"
	"github.com/okian/baseline/pkg/metrics"
)

// Properties is a user's property bag.
type Properties map[string]Value

// Get returns a property; null values are never stored.
func (p Properties) Get(key string) (Value, bool) {
	v, ok := p[key]
	return v, ok
}

// Clone returns a shallow copy. Values are immutable so sharing them is safe.
func (p Properties) Clone() Properties {
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// User is a handle to a user of the study.
type User struct {
	Name string `json:"name"`
}

// Backend persists users and properties. Implementations must make
// SaveProperty with a null value delete the key.
type Backend interface {
	CreateUser(ctx context.Context, name string) error
	SaveProperty(ctx context.Context, name, key string, value Value) error
	LoadUsers(ctx context.Context) (map[string]Properties, error)
}

type entry struct {
	mu    sync.Mutex
	props Properties
}

// Store is the in-memory user index with optional write-through persistence.
//
// The index is guarded by an RWMutex; each user has its own mutex so property
// writes for one user are serialized while different users proceed in parallel.
type Store struct {
	mu      sync.RWMutex
	users   map[string]*entry
	backend Backend
	logger  logger.Logger
}

// Option applies a configuration option to the Store.
type Option func(*Store)

// WithBackend enables write-through persistence.
func WithBackend(b Backend) Option {
	return func(s *Store) {
		s.backend = b
	}
}

// WithLogger sets the store logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore creates a store and loads persisted users from the backend.
func NewStore(ctx context.Context, opts ...Option) (*Store, error) {
	s := &Store{
		users:  make(map[string]*entry),
		logger: logger.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.backend != nil {
		loaded, err := s.backend.LoadUsers(ctx)
		if err != nil {
			return nil, fmt.Errorf("load users: %w", err)
		}
		for name, props := range loaded {
			if props == nil {
				props = Properties{}
			}
			s.users[name] = &entry{props: props}
		}
		s.logger.Info(ctx, "users loaded", logger.Int("users", len(loaded)))
	}
	metrics.UpdateUsers(len(s.users))
	return s, nil
}

func validName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrInvalidName
	}
	return nil
}

// NewUser registers a user. It fails with ErrUserExists when the name is taken.
func (s *Store) NewUser(ctx context.Context, name string) (User, error) {
	if err := validName(name); err != nil {
		return User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[name]; ok {
		return User{}, fmt.Errorf("%w: %s", ErrUserExists, name)
	}
	if s.backend != nil {
		if err := s.backend.CreateUser(ctx, name); err != nil {
			return User{}, fmt.Errorf("persist user %s: %w", name, err)
		}
	}
	s.users[name] = &entry{props: Properties{}}
	metrics.UpdateUsers(len(s.users))
	return User{Name: name}, nil
}

// ExistingUser returns a handle to a registered user. Users are never
// created implicitly.
func (s *Store) ExistingUser(_ context.Context, name string) (User, error) {
	if _, err := s.lookup(name); err != nil {
		return User{}, err
	}
	return User{Name: name}, nil
}

func (s *Store) lookup(name string) (*entry, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	s.mu.RLock()
	e, ok := s.users[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, name)
	}
	return e, nil
}

// SetProperty overwrites key; a null value clears it.
func (s *Store) SetProperty(ctx context.Context, name, key string, value Value) error {
	if key == "" {
		return ErrInvalidKey
	}
	e, err := s.lookup(name)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if s.backend != nil {
		if err := s.backend.SaveProperty(ctx, name, key, value); err != nil {
			return fmt.Errorf("persist property %s.%s: %w", name, key, err)
		}
	}
	if value.IsNull() {
		delete(e.props, key)
	} else {
		e.props[key] = value
	}
	return nil
}

// Property returns one property of a user.
func (s *Store) Property(_ context.Context, name, key string) (Value, bool, error) {
	e, err := s.lookup(name)
	if err != nil {
		return Value{}, false, err
	}
	e.mu.Lock()
	v, ok := e.props[key]
	e.mu.Unlock()
	return v, ok, nil
}

// Properties returns a copy of every property of a user.
func (s *Store) Properties(_ context.Context, name string) (Properties, error) {
	e, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.props.Clone(), nil
}

// Users lists user names in lexical order.
func (s *Store) Users() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.users))
	for name := range s.users {
		out = append(out, name)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Count returns the number of users.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}
