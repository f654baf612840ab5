package population_test

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/okian/baseline/internal/domain/population"
	. "github.com/smartystreets/goconvey/convey"
)

func newStore(t *testing.T, opts ...population.Option) *population.Store {
	t.Helper()
	defs, err := population.LoadDefinitions(strings.NewReader(sampleDefinitions))
	if err != nil {
		t.Fatalf("load definitions: %v", err)
	}
	s, err := population.NewStore(defs, opts...)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestStore_Snapshot(t *testing.T) {
	Convey("Given a store built from definitions", t, func() {
		s := newStore(t)
		snap := s.Snapshot()

		Convey("Then every band is served from the snapshot", func() {
			So(snap.Version(), ShouldEqual, 1)
			So(snap.MinSampleSize(), ShouldEqual, 5)
			So(snap.Metrics(), ShouldResemble, []string{"flanker"})
			So(snap.Categories("flanker"), ShouldResemble, []string{"gender", "overall"})
			So(snap.Bands("flanker", "gender"), ShouldResemble, []string{"female", "male"})
			So(snap.HasCategory("flanker", "age"), ShouldBeFalse)

			d, ok := snap.Distribution("flanker", "gender", "male")
			So(ok, ShouldBeTrue)
			So(d.Count(), ShouldEqual, 6)
			So(d.CountBelow(6), ShouldEqual, 4)
			So(d.CountEqual(3), ShouldEqual, 4)

			_, ok = snap.Distribution("flanker", "gender", "other")
			So(ok, ShouldBeFalse)
			_, ok = snap.Distribution("stroop", "overall", "everyone")
			So(ok, ShouldBeFalse)
		})

		Convey("When the threshold is overridden", func() {
			s := newStore(t, population.WithMinSampleSize(30))
			So(s.Snapshot().MinSampleSize(), ShouldEqual, 30)
		})
	})
}

func TestStore_AddSamples(t *testing.T) {
	Convey("Given a store", t, func() {
		ctx := context.Background()
		s := newStore(t)
		before := s.Snapshot()

		Convey("When a batch of samples arrives", func() {
			after, err := s.AddSamples(ctx, []population.Samples{
				{Key: population.Key{Metric: "flanker", Category: "gender", Band: "female"}, Values: []float64{1, 3}},
				{Key: population.Key{Metric: "flanker", Category: "age", Band: "18-29"}, Values: []float64{7}},
			})

			Convey("Then exactly one new snapshot is published", func() {
				So(err, ShouldBeNil)
				So(after.Version(), ShouldEqual, before.Version()+1)
				So(s.Snapshot(), ShouldEqual, after)

				d, _ := after.Distribution("flanker", "gender", "female")
				So(d.Bins(), ShouldResemble, []population.Bin{
					{Value: 1, Count: 1}, {Value: 2, Count: 1}, {Value: 3, Count: 1}, {Value: 4, Count: 1},
				})
				d, ok := after.Distribution("flanker", "age", "18-29")
				So(ok, ShouldBeTrue)
				So(d.Count(), ShouldEqual, 1)
			})

			Convey("And the previous snapshot is unchanged", func() {
				d, _ := before.Distribution("flanker", "gender", "female")
				So(d.Count(), ShouldEqual, 2)
				So(before.HasCategory("flanker", "age"), ShouldBeFalse)
			})
		})

		Convey("When a batch carries a non-finite value", func() {
			_, err := s.AddSamples(ctx, []population.Samples{
				{Key: population.Key{Metric: "flanker", Category: "overall", Band: "everyone"}, Values: []float64{1, math.NaN()}},
			})

			Convey("Then the batch is rejected and nothing is published", func() {
				So(errors.Is(err, population.ErrConfig), ShouldBeTrue)
				So(s.Snapshot(), ShouldEqual, before)
			})
		})

		Convey("When a batch has no band", func() {
			_, err := s.AddSamples(ctx, []population.Samples{{Values: []float64{1}}})
			So(errors.Is(err, population.ErrUnknownBand), ShouldBeTrue)
		})

		Convey("When a batch is empty", func() {
			snap, err := s.AddSamples(ctx, nil)
			So(err, ShouldBeNil)
			So(snap, ShouldEqual, before)
		})
	})
}

func TestStore_LargeHistogram(t *testing.T) {
	Convey("Given a band whose histogram describes billions of samples", t, func() {
		const huge = 1 << 62
		defs, err := population.LoadDefinitions(strings.NewReader(
			`{"min_sample_size":5,"metrics":{"m":{"overall":{"everyone":{"histogram":[{"value":1,"count":4611686018427387904},{"value":2,"count":1}]}}}}}`))
		So(err, ShouldBeNil)

		s, err := population.NewStore(defs)

		Convey("Then the store is built from the distinct values alone", func() {
			So(err, ShouldBeNil)
			d, ok := s.Snapshot().Distribution("m", "overall", "everyone")
			So(ok, ShouldBeTrue)
			So(d.Count(), ShouldEqual, huge+1)
			So(d.CountBelow(2), ShouldEqual, huge)
			So(d.CountEqual(1), ShouldEqual, huge)
			So(d.CountEqual(2), ShouldEqual, 1)
			So(d.Bins(), ShouldHaveLength, 2)

			sum, err := d.Summary()
			So(err, ShouldBeNil)
			So(sum.Median, ShouldEqual, 1)
			So(sum.Max, ShouldEqual, 2)
		})

		Convey("When samples are pushed into the band", func() {
			snap, err := s.AddSamples(context.Background(), []population.Samples{
				{Key: population.Key{Metric: "m", Category: "overall", Band: "everyone"}, Values: []float64{3}},
			})

			Convey("Then only the new value adds a bin", func() {
				So(err, ShouldBeNil)
				d, _ := snap.Distribution("m", "overall", "everyone")
				So(d.Count(), ShouldEqual, huge+2)
				So(d.Bins(), ShouldHaveLength, 3)
			})
		})
	})

	Convey("Given histogram bins whose total overflows", t, func() {
		defs := &population.Definitions{
			MinSampleSize: 5,
			Metrics: map[string]map[string]map[string]population.BandSpec{
				"m": {"overall": {"everyone": {Histogram: []population.Bin{
					{Value: 1, Count: math.MaxInt}, {Value: 2, Count: 1},
				}}}},
			},
		}

		_, err := population.NewStore(defs)

		Convey("Then the store rejects them as a configuration error", func() {
			So(errors.Is(err, population.ErrConfig), ShouldBeTrue)
		})
	})
}

func TestStore_ConcurrentReaders(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				d, ok := s.Snapshot().Distribution("flanker", "overall", "everyone")
				if !ok || d.Count() < 10 {
					t.Errorf("unexpected distribution: ok=%v", ok)
					return
				}
			}
		}()
	}
	for j := 0; j < 50; j++ {
		if _, err := s.AddSamples(ctx, []population.Samples{
			{Key: population.Key{Metric: "flanker", Category: "overall", Band: "everyone"}, Values: []float64{float64(j)}},
		}); err != nil {
			t.Fatalf("add samples: %v", err)
		}
	}
	wg.Wait()

	d, _ := s.Snapshot().Distribution("flanker", "overall", "everyone")
	if d.Count() != 60 {
		t.Errorf("expected 60 samples, got %d", d.Count())
	}
}

func TestDistribution_Summary(t *testing.T) {
	Convey("Given a distribution of 1..10", t, func() {
		d, err := population.NewDistribution([]float64{10, 9, 8, 7, 6, 5, 4, 3, 2, 1})
		So(err, ShouldBeNil)

		sum, err := d.Summary()

		Convey("Then the summary describes it", func() {
			So(err, ShouldBeNil)
			So(sum.Count, ShouldEqual, 10)
			So(sum.Min, ShouldEqual, 1)
			So(sum.Max, ShouldEqual, 10)
			So(sum.Mean, ShouldEqual, 5.5)
			So(sum.Median, ShouldEqual, 5.5)
			So(sum.StdDev, ShouldAlmostEqual, 2.8722813, 1e-6)
		})
	})

	Convey("Given distributions too small for interpolation", t, func() {
		two, err := population.NewDistribution([]float64{4, 2})
		So(err, ShouldBeNil)
		sum, err := two.Summary()
		So(err, ShouldBeNil)
		So(sum.Median, ShouldEqual, 3)
		So(sum.P25, ShouldEqual, 2)
		So(sum.P75, ShouldEqual, 3)

		one, err := population.NewDistribution([]float64{7})
		So(err, ShouldBeNil)
		sum, err = one.Summary()
		So(err, ShouldBeNil)
		So(sum.P25, ShouldEqual, 7)
		So(sum.P75, ShouldEqual, 7)
		So(sum.StdDev, ShouldEqual, 0)
	})

	Convey("Given tied samples", t, func() {
		d, err := population.NewDistribution([]float64{3, 1, 3, 3, 9})
		So(err, ShouldBeNil)
		So(d.Bins(), ShouldResemble, []population.Bin{{Value: 1, Count: 1}, {Value: 3, Count: 3}, {Value: 9, Count: 1}})

		sum, err := d.Summary()
		So(err, ShouldBeNil)
		So(sum.Mean, ShouldEqual, 3.8)
		So(sum.Median, ShouldEqual, 3)
	})

	Convey("Given an empty distribution", t, func() {
		d, err := population.NewDistribution(nil)
		So(err, ShouldBeNil)
		_, err = d.Summary()
		So(errors.Is(err, population.ErrEmptyDistribution), ShouldBeTrue)
	})

	Convey("Given non-finite samples", t, func() {
		_, err := population.NewDistribution([]float64{1, math.Inf(1)})
		So(errors.Is(err, population.ErrConfig), ShouldBeTrue)
	})
}
