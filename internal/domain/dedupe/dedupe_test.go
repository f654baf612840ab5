package dedupe_test

import (
	"context"
	"sync"
	"testing"

	dedupe "github.com/okian/baseline/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

func TestInMemoryDeduper(t *testing.T) {
	Convey("Given a new InMemoryDeduper keyed by update sequence", t, func() {
		ctx := context.Background()

		Convey("When creating a deduper with default options", func() {
			d := dedupe.NewInMemoryDeduper[int64]()

			Convey("Then it should be empty", func() {
				So(d, ShouldNotBeNil)
				So(d.Size(), ShouldEqual, 0)
			})
		})

		Convey("When recording keys", func() {
			d := dedupe.NewInMemoryDeduper[int64]()

			Convey("And the key is new", func() {
				seen := d.SeenAndRecord(ctx, 1)

				Convey("Then it should return false and record the key", func() {
					So(seen, ShouldBeFalse)
					So(d.Size(), ShouldEqual, 1)
				})
			})

			Convey("And the key was already seen", func() {
				d.SeenAndRecord(ctx, 1)
				seen := d.SeenAndRecord(ctx, 1)

				Convey("Then it should return true", func() {
					So(seen, ShouldBeTrue)
					So(d.Size(), ShouldEqual, 1)
				})
			})
		})

		Convey("When unrecording keys", func() {
			d := dedupe.NewInMemoryDeduper[int64]()
			d.SeenAndRecord(ctx, 1)
			d.SeenAndRecord(ctx, 2)

			d.Unrecord(ctx, 1)
			d.Unrecord(ctx, 99)

			Convey("Then only recorded keys are removed", func() {
				So(d.Size(), ShouldEqual, 1)
				So(d.SeenAndRecord(ctx, 1), ShouldBeFalse)
				So(d.SeenAndRecord(ctx, 2), ShouldBeTrue)
			})
		})

		Convey("When using bounded mode with eviction", func() {
			d := dedupe.NewInMemoryDeduper[int64](dedupe.WithMaxSize(3))
			for i := int64(1); i <= 3; i++ {
				d.SeenAndRecord(ctx, i)
			}
			d.SeenAndRecord(ctx, 4)

			Convey("Then the oldest key is evicted", func() {
				So(d.Size(), ShouldEqual, 3)
				So(d.SeenAndRecord(ctx, 4), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, 3), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, 1), ShouldBeFalse)
			})
		})

		Convey("When using unbounded mode", func() {
			d := dedupe.NewInMemoryDeduper[string](dedupe.WithMaxSize(-1))
			for _, k := range []string{"a", "b", "c", "d", "e"} {
				d.SeenAndRecord(ctx, k)
			}

			Convey("Then nothing is evicted", func() {
				So(d.Size(), ShouldEqual, 5)
				So(d.SeenAndRecord(ctx, "a"), ShouldBeTrue)
			})
		})
	})
}

func TestDedupeConcurrency(t *testing.T) {
	Convey("Given a deduper with concurrent access", t, func() {
		d := dedupe.NewInMemoryDeduper[int64](dedupe.WithMaxSize(0))
		ctx := context.Background()

		Convey("When goroutines race on the same keys", func() {
			var wg sync.WaitGroup
			var mu sync.Mutex
			firsts := 0
			for g := 0; g < 8; g++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for k := int64(0); k < 100; k++ {
						if !d.SeenAndRecord(ctx, k) {
							mu.Lock()
							firsts++
							mu.Unlock()
						}
					}
				}()
			}
			wg.Wait()

			Convey("Then each key is claimed exactly once", func() {
				So(firsts, ShouldEqual, 100)
				So(d.Size(), ShouldEqual, 100)
			})
		})
	})
}
