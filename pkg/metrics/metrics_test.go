package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	. "github.com/smartystreets/goconvey/convey"
)

func TestManagerCreation(t *testing.T) {
	Convey("Given a dedicated registry", t, func() {
		registry := prometheus.NewRegistry()

		Convey("When creating a manager for a study", func() {
			m := NewManager(
				WithStudy("pku"),
				WithPrometheusRegistry(registry),
			)

			Convey("Then collectors carry the study label", func() {
				So(m, ShouldNotBeNil)
				m.resultsCreated.Inc()
				So(studyLabel(registry, "baseline_scoring_results_created_total"), ShouldEqual, "pku")
			})
		})
	})
}

func TestInit(t *testing.T) {
	Convey("Given the process wide manager", t, func() {
		prev, prevRegistry := globalManager, customRegistry
		defer func() { globalManager, customRegistry = prev, prevRegistry }()

		Convey("When it is initialised for a study", func() {
			Init(WithStudy("pku"))
			RecordResultCreated()

			Convey("Then the exported registry serves the labelled series", func() {
				So(GetRegistry(), ShouldNotEqual, prevRegistry)
				So(studyLabel(GetRegistry(), "baseline_scoring_results_created_total"), ShouldEqual, "pku")
			})
		})
	})
}

func studyLabel(g prometheus.Gatherer, name string) string {
	families, err := g.Gather()
	if err != nil {
		return ""
	}
	for _, f := range families {
		if f.GetName() != name || len(f.GetMetric()) == 0 {
			continue
		}
		for _, l := range f.GetMetric()[0].GetLabel() {
			if l.GetName() == "study" {
				return l.GetValue()
			}
		}
	}
	return ""
}

func TestRecording(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When recording score outcomes", func() {
			before := value(globalManager.scoresComputed.WithLabelValues("gender", "unmatched"))
			RecordScore("gender", "unmatched")
			RecordScore("gender", "unmatched")

			Convey("Then the labelled counter grows", func() {
				after := value(globalManager.scoresComputed.WithLabelValues("gender", "unmatched"))
				So(after-before, ShouldEqual, 2)
			})
		})

		Convey("When disabled", func() {
			SetEnabled(false)
			defer SetEnabled(true)
			before := value(globalManager.scoresComputed.WithLabelValues("overall", "ok"))
			RecordScore("overall", "ok")

			Convey("Then per-query scoring series are not recorded", func() {
				So(value(globalManager.scoresComputed.WithLabelValues("overall", "ok")), ShouldEqual, before)
			})
		})

		Convey("When setting gauges", func() {
			UpdateWorkersPaused(true)
			UpdateQueueCapacity(128)
			UpdateUnsyncedResults(4)

			Convey("Then the values are visible", func() {
				So(value(globalManager.workersPaused), ShouldEqual, 1)
				So(value(globalManager.queueCapacity), ShouldEqual, 128)
				So(value(globalManager.unsyncedResults), ShouldEqual, 4)
			})
		})

		Convey("When recording the remaining series", func() {
			So(func() {
				RecordScoringLatency(0.2)
				RecordBandMatch("age", true)
				UpdateReferenceSamples("PTBlink", "overall", 120)
				IncrementReferenceSnapshots()
				RecordResultCreated()
				UpdateUsers(3)
				RecordRepositoryLatency("lookup", 1)
				RecordUpdatePublished()
				RecordUpdateDelivered()
				RecordUpdateDuplicate()
				UpdateQueueSize(1)
				RecordQueueRejected("full")
				UpdateWorkerCount(2)
				RecordJobLatency("upload", 3)
				RecordSyncError("poll")
				RecordHTTPRequest("/results/{id}", "GET", "200", 1.5)
				RecordErrorByComponent("repository", "not_found")
			}, ShouldNotPanic)
		})

		Convey("Then the registry exposes baseline series", func() {
			families, err := GetRegistry().Gather()
			So(err, ShouldBeNil)
			names := make([]string, 0, len(families))
			for _, f := range families {
				names = append(names, f.GetName())
			}
			So(strings.Join(names, ","), ShouldContainSubstring, "baseline_scoring_results_created_total")
		})
	})
}

func value(m prometheus.Metric) float64 {
	var pb dto.Metric
	if err := m.Write(&pb); err != nil {
		return -1
	}
	if pb.Counter != nil {
		return pb.Counter.GetValue()
	}
	if pb.Gauge != nil {
		return pb.Gauge.GetValue()
	}
	return 0
}
