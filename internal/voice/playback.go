package voice

import (
	"context"
	"sync"
	"time"

	"github.com/discord-voice-bridge/internal/audio"
	"github.com/discord-voice-bridge/internal/logging"
)

// Handle tracks one in-flight playback. Done is closed when the streaming
// loop has fully stopped; no frames are emitted afterwards.
type Handle struct {
	done chan struct{}

	mu  sync.Mutex
	err error
}

// Done is closed when playback finished, failed or was cancelled.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err reports the transport error that aborted playback, if any. Valid
// after Done is closed.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *Handle) setErr(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
}

// Playback owns the single audio output for one voice session. Starting a
// new playback cancels any prior one; Cancel is safe at any time,
// including concurrently with Play, and guarantees no further frames are
// emitted after it returns.
type Playback struct {
	sink FrameSink
	enc  Encoder

	mu     sync.Mutex
	cancel context.CancelFunc
	cur    *Handle
}

func NewPlayback(sink FrameSink, enc Encoder) *Playback {
	return &Playback{sink: sink, enc: enc}
}

// Play cancels any live playback, then streams the PCM payload as paced
// 20 ms frames in a background goroutine. The returned handle reports
// completion.
func (p *Playback) Play(ctx context.Context, pcm []int16) *Handle {
	p.Cancel()

	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{done: make(chan struct{})}

	p.mu.Lock()
	p.cancel = cancel
	p.cur = h
	p.mu.Unlock()

	go p.stream(ctx, pcm, h)
	return h
}

// Cancel stops the current playback, if any, and returns once the
// streaming loop has exited.
func (p *Playback) Cancel() {
	p.mu.Lock()
	cancel := p.cancel
	cur := p.cur
	p.cancel = nil
	p.cur = nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-cur.Done()
}

func (p *Playback) stream(ctx context.Context, pcm []int16, h *Handle) {
	defer close(h.done)
	defer func() { _ = p.sink.Speaking(false) }()

	if err := p.sink.Speaking(true); err != nil {
		h.setErr(err)
		return
	}

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	frames := 0
	for off := 0; off < len(pcm); off += audio.FrameSamples {
		select {
		case <-ctx.Done():
			logging.Debugw("playback: cancelled", "frames_sent", frames)
			return
		case <-ticker.C:
		}

		end := off + audio.FrameSamples
		frame := make([]int16, audio.FrameSamples)
		if end > len(pcm) {
			// final short frame is zero-padded to a full frame
			copy(frame, pcm[off:])
		} else {
			copy(frame, pcm[off:end])
		}

		encoded, err := p.enc.Encode(frame)
		if err != nil {
			logging.Warnw("playback: encode failed", "err", err)
			h.setErr(err)
			return
		}
		if err := p.sink.SendFrame(encoded); err != nil {
			logging.Warnw("playback: transport send failed", "err", err, "frames_sent", frames)
			h.setErr(err)
			return
		}
		frames++
	}
	logging.Debugw("playback: complete", "frames_sent", frames)
}
