// Package status holds the single user-visible status line shared by the
// call session and the wake detector.
package status

import (
	"sync"
	"time"
)

// Line is the current status text and when it was set.
type Line struct {
	Text string    `json:"line"`
	At   time.Time `json:"at"`
}

// Board stores the latest status line. Setting a line replaces the
// previous one; there is no history.
type Board struct {
	mu   sync.Mutex
	line Line
	subs map[int]func(Line)
	next int
	now  func() time.Time
}

// NewBoard creates a Board showing initial.
func NewBoard(initial string) *Board {
	b := &Board{subs: make(map[int]func(Line)), now: time.Now}
	b.line = Line{Text: initial, At: b.now()}
	return b
}

// Set replaces the current line and notifies subscribers. It matches the
// status callback signature used by call.WithStatus and wake.WithStatus.
func (b *Board) Set(text string) {
	b.mu.Lock()
	b.line = Line{Text: text, At: b.now()}
	line := b.line
	subs := make([]func(Line), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.Unlock()

	for _, fn := range subs {
		fn(line)
	}
}

// Current returns the current line.
func (b *Board) Current() Line {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.line
}

// Subscribe registers fn for every later Set. The returned func removes it.
func (b *Board) Subscribe(fn func(Line)) (cancel func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}
