// Package conversation tracks ordered exchange histories for logical
// conversations: one per voice session and one per addressed text thread.
package conversation

import (
	"sync"
	"time"
)

// Exchange is one request/response pair in a conversation.
type Exchange struct {
	Input string
	Reply string
	At    time.Time
}

// Thread is the ordered exchange history for one conversation. Each thread
// carries its own lock so appends to distinct threads never contend.
type Thread struct {
	Key       string
	CreatedAt time.Time

	mu        sync.Mutex
	exchanges []Exchange
}

// Append adds one exchange to the end of the thread.
func (t *Thread) Append(e Exchange) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e.At.IsZero() {
		e.At = time.Now()
	}
	t.exchanges = append(t.exchanges, e)
}

// History returns a copy of the thread's exchanges in append order.
func (t *Thread) History() []Exchange {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Exchange, len(t.exchanges))
	copy(out, t.exchanges)
	return out
}

// Len returns the number of exchanges recorded on the thread.
func (t *Thread) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.exchanges)
}

// Tracker is an explicitly owned registry of conversation threads keyed by
// thread key. Text threads live for the process lifetime; voice-session
// threads are dropped when the session ends. History length is unbounded.
type Tracker struct {
	mu      sync.RWMutex
	threads map[string]*Thread
}

func NewTracker() *Tracker {
	return &Tracker{threads: make(map[string]*Thread)}
}

// Resolve returns the thread for key, creating it on first use.
func (tr *Tracker) Resolve(key string) *Thread {
	tr.mu.RLock()
	t, ok := tr.threads[key]
	tr.mu.RUnlock()
	if ok {
		return t
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if t, ok := tr.threads[key]; ok {
		return t
	}
	t = &Thread{Key: key, CreatedAt: time.Now()}
	tr.threads[key] = t
	return t
}

// Append records one exchange on the thread for key, creating the thread if
// needed. Appends to the same thread are strictly ordered; appends to
// distinct threads proceed independently.
func (tr *Tracker) Append(key string, e Exchange) {
	tr.Resolve(key).Append(e)
}

// History returns a copy of the exchange history for key, or nil when no
// thread exists yet.
func (tr *Tracker) History(key string) []Exchange {
	tr.mu.RLock()
	t, ok := tr.threads[key]
	tr.mu.RUnlock()
	if !ok {
		return nil
	}
	return t.History()
}

// Drop removes the thread for key. Used when a voice session ends; text
// threads are never dropped.
func (tr *Tracker) Drop(key string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	delete(tr.threads, key)
}

// Len returns the number of live threads.
func (tr *Tracker) Len() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.threads)
}
