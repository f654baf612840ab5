package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/okian/baseline/internal/domain/result"
	. "github.com/smartystreets/goconvey/convey"
)

func TestForName(t *testing.T) {
	Convey("Resolving server names", t, func() {
		info, err := ForName("", "")
		So(err, ShouldBeNil)
		So(info, ShouldResemble, Default())

		info, err = ForName("staging", "http://localhost:9999")
		So(err, ShouldBeNil)
		So(info.Name, ShouldEqual, "staging")
		So(info.BaseURL, ShouldEqual, "http://localhost:9999")

		_, err = ForName("moon", "")
		So(errors.Is(err, ErrUnknownServer), ShouldBeTrue)
	})
}

func TestHTTPClient(t *testing.T) {
	Convey("Given a study server", t, func() {
		id := result.NewID()
		var uploaded uploadRequest
		mux := http.NewServeMux()
		mux.HandleFunc("POST /v1/studies/pku/installs", func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(authorizeResponse{InstallID: "inst-1"})
		})
		mux.HandleFunc("POST /v1/studies/pku/results", func(w http.ResponseWriter, r *http.Request) {
			if err := json.NewDecoder(r.Body).Decode(&uploaded); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			_ = json.NewEncoder(w).Encode(Ack{Scores: []float64{42}})
		})
		mux.HandleFunc("GET /v1/studies/pku/updates", func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("cursor") == "7" {
				_ = json.NewEncoder(w).Encode(updatesResponse{Cursor: "7"})
				return
			}
			_ = json.NewEncoder(w).Encode(updatesResponse{
				Cursor:  "7",
				Samples: []wireSamples{{Metric: "flanker", Category: "overall", Band: "everyone", Values: []float64{1, 2}}},
				Scores:  map[string][]float64{id.String(): {55}, "junk": {1}},
			})
		})
		mux.HandleFunc("POST /v1/studies/broken/installs", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "down", http.StatusServiceUnavailable)
		})
		mux.HandleFunc("POST /v1/studies/closed/installs", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "study closed", http.StatusForbidden)
		})
		srv := httptest.NewServer(mux)
		defer srv.Close()

		c := NewHTTPClient(ServerInfo{Name: "test", BaseURL: srv.URL})
		ctx := context.Background()

		Convey("Authorize returns the install id", func() {
			got, err := c.Authorize(ctx, "pku")
			So(err, ShouldBeNil)
			So(got, ShouldEqual, "inst-1")
		})

		Convey("Upload sends the result and returns recomputed scores", func() {
			r := result.Result{
				ID:        id,
				User:      "alice",
				Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
				Telemetry: result.Telemetry{Metric: "flanker", Scores: []float64{5}, Raw: json.RawMessage(`{"rt":[1]}`)},
			}
			ack, err := c.Upload(ctx, "pku", r)
			So(err, ShouldBeNil)
			So(ack.Scores, ShouldResemble, []float64{42})
			So(uploaded.ID, ShouldEqual, id)
			So(uploaded.Metric, ShouldEqual, "flanker")
			So(string(uploaded.Raw), ShouldEqual, `{"rt":[1]}`)
		})

		Convey("FetchUpdates decodes samples and scores", func() {
			u, err := c.FetchUpdates(ctx, "pku", "")
			So(err, ShouldBeNil)
			So(u.Cursor, ShouldEqual, "7")
			So(u.Samples, ShouldHaveLength, 1)
			So(u.Samples[0].Key.Band, ShouldEqual, "everyone")
			So(u.Scores, ShouldHaveLength, 1)
			So(u.Scores[id], ShouldResemble, []float64{55})

			u, err = c.FetchUpdates(ctx, "pku", "7")
			So(err, ShouldBeNil)
			So(u.Samples, ShouldBeEmpty)
		})

		Convey("Server errors are retryable", func() {
			_, err := c.Authorize(ctx, "broken")
			So(errors.Is(err, ErrUnavailable), ShouldBeTrue)
		})

		Convey("Client errors are rejections", func() {
			_, err := c.Authorize(ctx, "closed")
			So(errors.Is(err, ErrRejected), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "study closed")
		})

		Convey("An unreachable server is unavailable", func() {
			srv.Close()
			_, err := c.Authorize(ctx, "pku")
			So(errors.Is(err, ErrUnavailable), ShouldBeTrue)
		})
	})
}

func TestFake(t *testing.T) {
	Convey("Given a fake server", t, func() {
		f := NewFake()
		ctx := context.Background()

		Convey("Pages are served in order", func() {
			f.Push(nil, map[result.ID][]float64{result.NewID(): {1}})
			u, err := f.FetchUpdates(ctx, "s", "")
			So(err, ShouldBeNil)
			So(u.Cursor, ShouldEqual, "1")
			So(u.Scores, ShouldHaveLength, 1)

			u, err = f.FetchUpdates(ctx, "s", u.Cursor)
			So(err, ShouldBeNil)
			So(u.Scores, ShouldBeEmpty)
		})

		Convey("Offline calls fail", func() {
			f.SetOffline(true)
			_, err := f.Upload(ctx, "s", result.Result{ID: result.NewID()})
			So(errors.Is(err, ErrUnavailable), ShouldBeTrue)
		})
	})
}
