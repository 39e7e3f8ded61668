package voice

import (
	"context"
	"sync"
	"time"

	"github.com/discord-voice-bridge/internal/conversation"
)

// fakeSink records every frame handed to the transport.
type fakeSink struct {
	mu     sync.Mutex
	frames int
	states []bool
}

func (f *fakeSink) SendFrame(b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames++
	return nil
}

func (f *fakeSink) Speaking(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, on)
	return nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frames
}

// rawEncoder is a passthrough stand-in for the opus encoder.
type rawEncoder struct{}

func (rawEncoder) Encode(pcm []int16) ([]byte, error) {
	return make([]byte, len(pcm)*2), nil
}

// scriptedSTT pops transcripts from a list; the last entry repeats.
type scriptedSTT struct {
	mu    sync.Mutex
	outs  []string
	err   error
	calls int
}

func (s *scriptedSTT) Transcribe(ctx context.Context, pcm []int16, correlationID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	if len(s.outs) == 0 {
		return "", nil
	}
	out := s.outs[0]
	if len(s.outs) > 1 {
		s.outs = s.outs[1:]
	}
	return out, nil
}

// echoSTT returns the configured transcript on every call.
func echoSTT(text string) *scriptedSTT { return &scriptedSTT{outs: []string{text}} }

type fakeLLM struct {
	mu    sync.Mutex
	reply string
	err   error
	delay time.Duration
	calls int
}

func (l *fakeLLM) Generate(ctx context.Context, history []conversation.Exchange, input string) (string, error) {
	l.mu.Lock()
	l.calls++
	delay, reply, err := l.delay, l.reply, l.err
	l.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return reply, nil
}

func (l *fakeLLM) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

type fakeTTS struct {
	mu    sync.Mutex
	pcm   []int16
	err   error
	calls int
}

func (t *fakeTTS) Synthesize(ctx context.Context, text string) ([]int16, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	if t.err != nil {
		return nil, t.err
	}
	return t.pcm, nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	notices []string
}

func (n *fakeNotifier) SendNotice(channelID, msg string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, msg)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notices)
}
