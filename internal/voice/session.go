package voice

import (
	"context"
	"sync"
	"time"

	"github.com/discord-voice-bridge/internal/logging"
)

// SessionState is the interaction state of a voice session.
type SessionState int

const (
	// StateIdle: listening, nothing pending or playing.
	StateIdle SessionState = iota
	// StateResponding: a response pipeline invocation is in flight.
	StateResponding
	// StatePlaying: synthesized audio is streaming to the channel.
	StatePlaying
)

func (s SessionState) String() string {
	switch s {
	case StateResponding:
		return "responding"
	case StatePlaying:
		return "playing"
	default:
		return "idle"
	}
}

// Session is one active voice-channel engagement. The orchestrator owns
// all sessions; at most one exists per voice channel. All mutable state
// is guarded by mu.
type Session struct {
	GuildID       string
	ChannelID     string
	TextChannelID string
	ThreadKey     string
	Mode          Mode
	CreatedAt     time.Time

	seg      *Segmenter
	playback *Playback

	ctx       context.Context
	ctxCancel context.CancelFunc
	utterCh   chan Utterance

	mu            sync.Mutex
	state         SessionState
	cancelPending context.CancelFunc
	handle        *Handle
	transcript    []transcriptLine
	closed        bool
}

type transcriptLine struct {
	At        time.Time
	SpeakerID string
	Text      string
}

// State returns the session's current interaction state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Closed reports whether the session has been torn down.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) appendTranscript(speakerID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.transcript = append(s.transcript, transcriptLine{At: time.Now(), SpeakerID: speakerID, Text: text})
}

// enqueue hands a finalized utterance to the session worker. Utterances
// are dropped rather than blocking the audio ingestion path when the
// worker is saturated.
func (s *Session) enqueue(u Utterance) {
	select {
	case s.utterCh <- u:
	default:
		logging.Warnw("session: utterance dropped, worker queue full",
			append(logging.SessionFields(s.GuildID, s.ChannelID),
				"speaker.id", u.SpeakerID, "correlation_id", u.CorrelationID)...)
	}
}
