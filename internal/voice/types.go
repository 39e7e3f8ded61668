package voice

import (
	"strings"
	"time"
)

// Mode is the operating mode of a voice session, chosen by the join
// command variant.
type Mode int

const (
	// ModeNormal responds only to utterances carrying a wake phrase.
	ModeNormal Mode = iota
	// ModeFree responds to every completed utterance.
	ModeFree
	// ModeSilent behaves like normal but suppresses acknowledgment tones.
	ModeSilent
	// ModeTranscribe behaves like normal and additionally accumulates a
	// transcript log for the whole session, delivered on leave.
	ModeTranscribe
)

func (m Mode) String() string {
	switch m {
	case ModeFree:
		return "free"
	case ModeSilent:
		return "silent"
	case ModeTranscribe:
		return "transcribe"
	default:
		return "normal"
	}
}

// ParseMode maps a join-command argument to a Mode. Unknown values fall
// back to normal.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "free":
		return ModeFree
	case "silent":
		return ModeSilent
	case "transcribe":
		return ModeTranscribe
	default:
		return ModeNormal
	}
}

// Utterance is a finalized span of one speaker's speech, emitted by the
// segmenter and consumed exactly once.
type Utterance struct {
	SpeakerID     string
	PCM           []int16
	CorrelationID string
	Duration      time.Duration
}

// Event is published to the optional live feed as utterances are
// transcribed and replies produced.
type Event struct {
	Type          string    `json:"type"` // transcript | reply | error
	ChannelID     string    `json:"channel_id"`
	SpeakerID     string    `json:"speaker_id,omitempty"`
	Text          string    `json:"text"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	At            time.Time `json:"at"`
}

// EventSink receives feed events. Implementations must not block.
type EventSink interface {
	Publish(Event)
}

// FrameSink accepts encoded audio frames for one voice channel. It is the
// outbound half of the transport collaborator.
type FrameSink interface {
	// SendFrame emits one encoded 20 ms frame. It may block briefly for
	// pacing but must return promptly once the frame is handed off.
	SendFrame(frame []byte) error
	// Speaking toggles the transmitting indicator for the channel.
	Speaking(on bool) error
}

// Encoder turns one 20 ms PCM frame into an encoded transport frame.
type Encoder interface {
	Encode(pcm []int16) ([]byte, error)
}

// Notifier delivers short textual notices (failure reports, transcripts)
// to the control channel associated with a session.
type Notifier interface {
	SendNotice(channelID, msg string) error
}
