package voice

import (
	"sync"
	"time"

	"github.com/discord-voice-bridge/internal/audio"
	"github.com/discord-voice-bridge/internal/logging"
	"github.com/google/uuid"
)

// SegmenterConfig holds the utterance segmentation tuning. All values are
// configuration because the right numbers depend on room noise, codec and
// speaker habits.
type SegmenterConfig struct {
	// RMSThreshold classifies a 20 ms frame as voiced when its RMS energy
	// reaches this value.
	RMSThreshold int
	// StartFrames is the number of consecutive voiced frames required to
	// open a capture (debounce against transient noise).
	StartFrames int
	// SilenceFrames is the number of consecutive silent frames that close
	// a capture and finalize the utterance.
	SilenceFrames int
	// MinDuration discards captures whose voiced span is shorter.
	MinDuration time.Duration
	// MaxDuration force-finalizes a capture that never goes silent.
	MaxDuration time.Duration
}

func (c SegmenterConfig) withDefaults() SegmenterConfig {
	if c.RMSThreshold <= 0 {
		c.RMSThreshold = 300
	}
	if c.StartFrames <= 0 {
		c.StartFrames = 3
	}
	if c.SilenceFrames <= 0 {
		c.SilenceFrames = 40
	}
	if c.MinDuration <= 0 {
		c.MinDuration = 300 * time.Millisecond
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = 15 * time.Second
	}
	return c
}

type captureState int

const (
	captureIdle captureState = iota
	capturing
)

// speakerStream accumulates audio for one speaker inside a session.
type speakerStream struct {
	state         captureState
	pending       []int16 // voiced run observed while still idle
	samples       []int16
	voicedFrames  int
	voicedRun     int
	silentRun     int
	correlationID string
	lastFrame     time.Time
}

// Segmenter buffers per-speaker audio frames and emits completed
// utterances. It performs no I/O and never blocks; callers synchronize
// access through the owning session's lock.
type Segmenter struct {
	cfg SegmenterConfig

	mu       sync.Mutex
	speakers map[string]*speakerStream
}

func NewSegmenter(cfg SegmenterConfig) *Segmenter {
	return &Segmenter{
		cfg:      cfg.withDefaults(),
		speakers: make(map[string]*speakerStream),
	}
}

// Feed ingests one fixed-duration PCM frame for a speaker. When the frame
// completes an utterance it is returned with ok=true; the stream is reset
// for the next capture.
func (s *Segmenter) Feed(speakerID string, frame []int16) (Utterance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.speakers[speakerID]
	if !ok {
		st = &speakerStream{}
		s.speakers[speakerID] = st
	}
	st.lastFrame = time.Now()

	voiced := audio.RMS(frame) >= s.cfg.RMSThreshold

	switch st.state {
	case captureIdle:
		if !voiced {
			st.voicedRun = 0
			st.pending = st.pending[:0]
			return Utterance{}, false
		}
		st.voicedRun++
		st.pending = append(st.pending, frame...)
		if st.voicedRun >= s.cfg.StartFrames {
			st.state = capturing
			st.samples = append(st.samples[:0], st.pending...)
			st.pending = st.pending[:0]
			st.voicedFrames = st.voicedRun
			st.voicedRun = 0
			st.silentRun = 0
			st.correlationID = uuid.NewString()
			logging.Debugw("segmenter: capture opened", logging.SpeakerFields(speakerID, st.correlationID)...)
		}
		return Utterance{}, false

	case capturing:
		st.samples = append(st.samples, frame...)
		if voiced {
			st.voicedFrames++
			st.silentRun = 0
		} else {
			st.silentRun++
			if st.silentRun >= s.cfg.SilenceFrames {
				return s.finalizeLocked(speakerID, st)
			}
		}
		if s.duration(len(st.samples)) >= s.cfg.MaxDuration {
			return s.finalizeLocked(speakerID, st)
		}
		return Utterance{}, false
	}
	return Utterance{}, false
}

// FlushSpeaker finalizes any in-progress capture for a speaker, used when
// the speaker leaves or the session ends.
func (s *Segmenter) FlushSpeaker(speakerID string) (Utterance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.speakers[speakerID]
	if !ok || st.state != capturing {
		return Utterance{}, false
	}
	return s.finalizeLocked(speakerID, st)
}

// RemoveSpeaker discards all buffered state for a speaker.
func (s *Segmenter) RemoveSpeaker(speakerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.speakers, speakerID)
}

// FlushAll finalizes every in-progress capture, in no particular order.
func (s *Segmenter) FlushAll() []Utterance {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Utterance
	for id, st := range s.speakers {
		if st.state != capturing {
			continue
		}
		if u, ok := s.finalizeLocked(id, st); ok {
			out = append(out, u)
		}
	}
	return out
}

// finalizeLocked closes the capture and returns the utterance unless the
// voiced span is below the minimum duration, in which case it is dropped
// as noise.
func (s *Segmenter) finalizeLocked(speakerID string, st *speakerStream) (Utterance, bool) {
	voicedDur := time.Duration(st.voicedFrames) * 20 * time.Millisecond
	pcm := make([]int16, len(st.samples))
	copy(pcm, st.samples)
	cid := st.correlationID

	st.state = captureIdle
	st.samples = st.samples[:0]
	st.pending = st.pending[:0]
	st.voicedFrames = 0
	st.voicedRun = 0
	st.silentRun = 0
	st.correlationID = ""

	if voicedDur < s.cfg.MinDuration {
		logging.Debugw("segmenter: capture below minimum duration, dropped",
			"speaker.id", speakerID, "voiced_ms", voicedDur.Milliseconds(), "correlation_id", cid)
		return Utterance{}, false
	}
	logging.Debugw("segmenter: utterance finalized",
		"speaker.id", speakerID, "samples", len(pcm), "voiced_ms", voicedDur.Milliseconds(), "correlation_id", cid)
	return Utterance{
		SpeakerID:     speakerID,
		PCM:           pcm,
		CorrelationID: cid,
		Duration:      s.duration(len(pcm)),
	}, true
}

func (s *Segmenter) duration(samples int) time.Duration {
	return time.Duration(samples) * time.Second / audio.SampleRate
}
