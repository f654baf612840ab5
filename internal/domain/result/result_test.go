package result_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/okian/baseline/internal/domain/result"
	"github.com/okian/baseline/internal/domain/scoring"
	. "github.com/smartystreets/goconvey/convey"
)

func TestID(t *testing.T) {
	Convey("Given freshly minted identifiers", t, func() {
		a := result.NewID()
		b := result.NewID()

		Convey("Then they are unique and compare by value", func() {
			So(a, ShouldNotEqual, b)
			So(a.IsZero(), ShouldBeFalse)
			So(result.ID{}.IsZero(), ShouldBeTrue)

			parsed, err := result.ParseID(a.String())
			So(err, ShouldBeNil)
			So(parsed == a, ShouldBeTrue)
		})

		Convey("Then they serialize as strings", func() {
			out, err := json.Marshal(map[string]result.ID{"id": a})
			So(err, ShouldBeNil)
			So(string(out), ShouldEqual, `{"id":"`+a.String()+`"}`)

			var back map[string]result.ID
			So(json.Unmarshal(out, &back), ShouldBeNil)
			So(back["id"] == a, ShouldBeTrue)
		})
	})

	Convey("Given a malformed identifier", t, func() {
		_, err := result.ParseID("not-a-result")
		So(errors.Is(err, result.ErrInvalidID), ShouldBeTrue)

		var id result.ID
		So(errors.Is(id.UnmarshalText([]byte("zzz")), result.ErrInvalidID), ShouldBeTrue)
	})
}

func TestTelemetry_Validate(t *testing.T) {
	Convey("Given telemetry values", t, func() {
		So(result.Telemetry{Metric: "flanker", Scores: []float64{1}}.Validate(), ShouldBeNil)
		So(result.Telemetry{Metric: "flanker", Scores: []float64{1, 0, 2}, Raw: json.RawMessage(`{"trials":40}`)}.Validate(), ShouldBeNil)

		Convey("Then malformed telemetry fails with ErrInvalidArgument", func() {
			for _, tm := range []result.Telemetry{
				{Scores: []float64{1}},
				{Metric: "flanker"},
				{Metric: "flanker", Scores: []float64{1, 2}},
				{Metric: "flanker", Scores: []float64{1}, Raw: json.RawMessage(`{`)},
			} {
				So(errors.Is(tm.Validate(), scoring.ErrInvalidArgument), ShouldBeTrue)
			}
		})
	})
}

func TestValidateTimestamp(t *testing.T) {
	Convey("Given completion times", t, func() {
		So(result.ValidateTimestamp(time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)), ShouldBeNil)
		So(result.ValidateTimestamp(time.Date(1200, 1, 1, 0, 0, 0, 0, time.UTC)), ShouldBeNil)
		So(result.ValidateTimestamp(time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)), ShouldBeNil)

		Convey("Then years RFC 3339 cannot carry fail with ErrInvalidArgument", func() {
			for _, ts := range []time.Time{
				time.Date(10000, 1, 1, 0, 0, 0, 0, time.UTC),
				time.Date(-1, 1, 1, 0, 0, 0, 0, time.UTC),
			} {
				So(errors.Is(result.ValidateTimestamp(ts), scoring.ErrInvalidArgument), ShouldBeTrue)
			}
		})
	})
}

func TestResult_EffectiveScores(t *testing.T) {
	Convey("Given a result", t, func() {
		r := result.Result{Telemetry: result.Telemetry{Metric: "m", Scores: []float64{4}}}
		So(r.EffectiveScores(), ShouldResemble, []float64{4})

		Convey("Then server scores take precedence", func() {
			r.ServerScores = []float64{5, 4, 6}
			So(r.EffectiveScores(), ShouldResemble, []float64{5, 4, 6})
		})
	})
}
