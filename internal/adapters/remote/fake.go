package remote

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/okian/baseline/internal/domain/population"
	"github.com/okian/baseline/internal/domain/result"
)

// Fake is an in-process Client. Pages pushed with Push are served in order,
// one per FetchUpdates call, with the page index as cursor.
type Fake struct {
	mu        sync.Mutex
	installID string
	offline   bool
	uploaded  []result.Result
	rescore   map[result.ID][]float64
	pages     []Updates
}

// NewFake returns a reachable fake server.
func NewFake() *Fake {
	return &Fake{installID: "fake-install", rescore: make(map[result.ID][]float64)}
}

// SetOffline makes every call fail with ErrUnavailable.
func (f *Fake) SetOffline(offline bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = offline
}

// Rescore makes the next upload of id return scores.
func (f *Fake) Rescore(id result.ID, scores []float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rescore[id] = scores
}

// Push queues a page of updates.
func (f *Fake) Push(samples []population.Samples, scores map[result.ID][]float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages = append(f.pages, Updates{Samples: samples, Scores: scores})
}

// Uploaded returns the results received so far.
func (f *Fake) Uploaded() []result.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]result.Result(nil), f.uploaded...)
}

// Authorize implements Client.
func (f *Fake) Authorize(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offline {
		return "", ErrUnavailable
	}
	return f.installID, nil
}

// Upload implements Client.
func (f *Fake) Upload(_ context.Context, _ string, r result.Result) (Ack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offline {
		return Ack{}, ErrUnavailable
	}
	f.uploaded = append(f.uploaded, r)
	return Ack{Scores: f.rescore[r.ID]}, nil
}

// FetchUpdates implements Client.
func (f *Fake) FetchUpdates(_ context.Context, _, cursor string) (Updates, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offline {
		return Updates{}, ErrUnavailable
	}
	next := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return Updates{}, fmt.Errorf("%w: bad cursor %q", ErrRejected, cursor)
		}
		next = n
	}
	if next >= len(f.pages) {
		return Updates{Cursor: strconv.Itoa(len(f.pages))}, nil
	}
	page := f.pages[next]
	page.Cursor = strconv.Itoa(next + 1)
	return page, nil
}
