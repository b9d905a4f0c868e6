package wake

import (
	"context"
	"sync"
	"sync/atomic"
)

// MockRecognizer is a Recognizer driven by tests.
type MockRecognizer struct {
	mu       sync.Mutex
	handlers Handlers
	results  []Result

	// StartFunc overrides Start when set.
	StartFunc func() error

	starts atomic.Int32
	stops  atomic.Int32
}

// Start implements Recognizer.
func (r *MockRecognizer) Start() error {
	r.starts.Add(1)
	if r.StartFunc != nil {
		return r.StartFunc()
	}
	return nil
}

// Stop implements Recognizer.
func (r *MockRecognizer) Stop() error {
	r.stops.Add(1)
	return nil
}

// Starts returns how many times Start was called.
func (r *MockRecognizer) Starts() int { return int(r.starts.Load()) }

// Stops returns how many times Stop was called.
func (r *MockRecognizer) Stops() int { return int(r.stops.Load()) }

// Say appends a fragment and delivers the accumulated result list.
func (r *MockRecognizer) Say(transcript string) {
	r.mu.Lock()
	r.results = append(r.results, Result{Transcript: transcript, Final: true})
	results := append([]Result(nil), r.results...)
	fn := r.handlers.OnResult
	r.mu.Unlock()
	if fn != nil {
		fn(results)
	}
}

// Fail delivers a recognizer error.
func (r *MockRecognizer) Fail(err error) {
	r.mu.Lock()
	fn := r.handlers.OnError
	r.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// End simulates the recognizer terminating on its own.
func (r *MockRecognizer) End() {
	r.mu.Lock()
	fn := r.handlers.OnEnd
	r.results = nil
	r.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// MockFactory is a RecognizerFactory that records what it creates.
type MockFactory struct {
	mu sync.Mutex

	// NewFunc overrides the default behavior when set. The returned
	// recognizer is bound to the handlers.
	NewFunc func() (*MockRecognizer, error)

	// Created recognizers in order.
	Created []*MockRecognizer
}

// NewRecognizer implements RecognizerFactory.
func (f *MockFactory) NewRecognizer(h Handlers) (Recognizer, error) {
	r := &MockRecognizer{}
	if f.NewFunc != nil {
		var err error
		if r, err = f.NewFunc(); err != nil {
			return nil, err
		}
	}
	r.mu.Lock()
	r.handlers = h
	r.mu.Unlock()

	f.mu.Lock()
	f.Created = append(f.Created, r)
	f.mu.Unlock()
	return r, nil
}

// Last returns the most recently created recognizer, or nil.
func (f *MockFactory) Last() *MockRecognizer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Created) == 0 {
		return nil
	}
	return f.Created[len(f.Created)-1]
}

// MockCaller is a Caller that records starts.
type MockCaller struct {
	// StartFunc overrides Start when set.
	StartFunc func(ctx context.Context) error

	active atomic.Bool
	starts atomic.Int32
}

// Start implements Caller. On success the caller becomes active.
func (c *MockCaller) Start(ctx context.Context) error {
	c.starts.Add(1)
	if c.StartFunc != nil {
		if err := c.StartFunc(ctx); err != nil {
			return err
		}
	}
	c.active.Store(true)
	return nil
}

// IsActive implements Caller.
func (c *MockCaller) IsActive() bool { return c.active.Load() }

// SetActive forces the active flag.
func (c *MockCaller) SetActive(active bool) { c.active.Store(active) }

// Starts returns how many times Start was called.
func (c *MockCaller) Starts() int { return int(c.starts.Load()) }

var (
	_ Recognizer        = (*MockRecognizer)(nil)
	_ RecognizerFactory = (*MockFactory)(nil)
	_ Caller            = (*MockCaller)(nil)
)
