package profile_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/okian/baseline/internal/domain/profile"
	. "github.com/smartystreets/goconvey/convey"
)

type memBackend struct {
	mu    sync.Mutex
	users map[string]profile.Properties
	fail  error
}

func newMemBackend() *memBackend {
	return &memBackend{users: map[string]profile.Properties{}}
}

func (b *memBackend) CreateUser(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return b.fail
	}
	b.users[name] = profile.Properties{}
	return nil
}

func (b *memBackend) SaveProperty(_ context.Context, name, key string, v profile.Value) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return b.fail
	}
	if v.IsNull() {
		delete(b.users[name], key)
		return nil
	}
	b.users[name][key] = v
	return nil
}

func (b *memBackend) LoadUsers(context.Context) (map[string]profile.Properties, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]profile.Properties, len(b.users))
	for name, props := range b.users {
		out[name] = props.Clone()
	}
	return out, nil
}

func TestStore_Users(t *testing.T) {
	Convey("Given an empty profile store", t, func() {
		ctx := context.Background()
		s, err := profile.NewStore(ctx)
		So(err, ShouldBeNil)

		Convey("When a user is created", func() {
			u, err := s.NewUser(ctx, "alice")
			So(err, ShouldBeNil)
			So(u.Name, ShouldEqual, "alice")

			Convey("Then it can be loaded but not created twice", func() {
				got, err := s.ExistingUser(ctx, "alice")
				So(err, ShouldBeNil)
				So(got, ShouldResemble, u)

				_, err = s.NewUser(ctx, "alice")
				So(errors.Is(err, profile.ErrUserExists), ShouldBeTrue)
				So(s.Count(), ShouldEqual, 1)
			})
		})

		Convey("When an unknown user is loaded", func() {
			_, err := s.ExistingUser(ctx, "bob")

			Convey("Then it is not created implicitly", func() {
				So(errors.Is(err, profile.ErrUserNotFound), ShouldBeTrue)
				So(s.Count(), ShouldEqual, 0)
			})
		})

		Convey("When the name is blank", func() {
			_, err := s.NewUser(ctx, "  ")
			So(errors.Is(err, profile.ErrInvalidName), ShouldBeTrue)
		})
	})
}

func TestStore_Properties(t *testing.T) {
	Convey("Given a user", t, func() {
		ctx := context.Background()
		s, _ := profile.NewStore(ctx)
		_, _ = s.NewUser(ctx, "alice")

		Convey("When a property is set and overwritten", func() {
			So(s.SetProperty(ctx, "alice", "gender", profile.String("male")), ShouldBeNil)
			So(s.SetProperty(ctx, "alice", "gender", profile.String("female")), ShouldBeNil)

			Convey("Then the last write wins", func() {
				v, ok, err := s.Property(ctx, "alice", "gender")
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
				So(v.Equal(profile.String("female")), ShouldBeTrue)
			})

			Convey("Then null clears it", func() {
				So(s.SetProperty(ctx, "alice", "gender", profile.Null()), ShouldBeNil)
				_, ok, err := s.Property(ctx, "alice", "gender")
				So(err, ShouldBeNil)
				So(ok, ShouldBeFalse)
			})

			Convey("Then Properties returns a copy", func() {
				props, err := s.Properties(ctx, "alice")
				So(err, ShouldBeNil)
				props["gender"] = profile.String("other")
				v, _, _ := s.Property(ctx, "alice", "gender")
				So(v.Equal(profile.String("female")), ShouldBeTrue)
			})
		})

		Convey("When writing to an unknown user or an empty key", func() {
			So(errors.Is(s.SetProperty(ctx, "bob", "k", profile.Bool(true)), profile.ErrUserNotFound), ShouldBeTrue)
			So(errors.Is(s.SetProperty(ctx, "alice", "", profile.Bool(true)), profile.ErrInvalidKey), ShouldBeTrue)
			_, _, err := s.Property(ctx, "bob", "k")
			So(errors.Is(err, profile.ErrUserNotFound), ShouldBeTrue)
		})
	})
}

func TestStore_Backend(t *testing.T) {
	Convey("Given a store with a backend", t, func() {
		ctx := context.Background()
		backend := newMemBackend()
		s, err := profile.NewStore(ctx, profile.WithBackend(backend))
		So(err, ShouldBeNil)

		_, err = s.NewUser(ctx, "alice")
		So(err, ShouldBeNil)
		So(s.SetProperty(ctx, "alice", "age", profile.String("30")), ShouldBeNil)

		Convey("Then a new store reloads users and properties", func() {
			reopened, err := profile.NewStore(ctx, profile.WithBackend(backend))
			So(err, ShouldBeNil)
			So(reopened.Users(), ShouldResemble, []string{"alice"})
			v, ok, _ := reopened.Property(ctx, "alice", "age")
			So(ok, ShouldBeTrue)
			So(v.Equal(profile.String("30")), ShouldBeTrue)
		})

		Convey("Then backend failures leave memory untouched", func() {
			backend.fail = errors.New("disk full")
			err := s.SetProperty(ctx, "alice", "age", profile.String("31"))
			So(err, ShouldNotBeNil)
			v, _, _ := s.Property(ctx, "alice", "age")
			So(v.Equal(profile.String("30")), ShouldBeTrue)

			_, err = s.NewUser(ctx, "bob")
			So(err, ShouldNotBeNil)
			So(s.Count(), ShouldEqual, 1)
		})
	})
}

func TestStore_ConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	s, _ := profile.NewStore(ctx)
	for i := 0; i < 4; i++ {
		if _, err := s.NewUser(ctx, fmt.Sprintf("user-%d", i)); err != nil {
			t.Fatal(err)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func(user string, writer int) {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					key := fmt.Sprintf("k-%d-%d", writer, j)
					if err := s.SetProperty(ctx, user, key, profile.Bool(true)); err != nil {
						t.Errorf("set property: %v", err)
						return
					}
				}
			}(fmt.Sprintf("user-%d", i), w)
		}
	}
	wg.Wait()

	for i := 0; i < 4; i++ {
		props, err := s.Properties(ctx, fmt.Sprintf("user-%d", i))
		if err != nil {
			t.Fatal(err)
		}
		if len(props) != 400 {
			t.Errorf("user-%d: expected 400 properties, got %d", i, len(props))
		}
	}
}
