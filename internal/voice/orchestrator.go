package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/discord-voice-bridge/internal/audio"
	"github.com/discord-voice-bridge/internal/conversation"
	"github.com/discord-voice-bridge/internal/logging"
)

var (
	// ErrSessionExists is returned when joining a channel that already
	// has an active session.
	ErrSessionExists = errors.New("session already active for channel")
	// ErrNoSession is returned for operations on channels without one.
	ErrNoSession = errors.New("no active session for channel")
	// ErrBusy is returned when a text thread already has a response in
	// flight; the new message is dropped, not queued.
	ErrBusy = errors.New("a response is already in flight for this conversation")
)

// Options wires the orchestrator's collaborators.
type Options struct {
	Pipeline      *Pipeline
	Threads       *conversation.Tracker
	Matcher       *Matcher
	Segmenter     SegmenterConfig
	Notifier      Notifier
	Events        EventSink
	TranscriptDir string
}

// Orchestrator is the top-level coordinator. It owns every voice Session,
// routes segmented utterances and addressed text messages into the
// response pipeline, and enforces the at-most-one in-flight response and
// at-most-one playback invariants per session.
type Orchestrator struct {
	pipeline      *Pipeline
	threads       *conversation.Tracker
	matcher       *Matcher
	segCfg        SegmenterConfig
	notifier      Notifier
	events        EventSink
	transcriptDir string

	ackTrigger []int16
	ackDone    []int16

	mu           sync.Mutex
	sessions     map[string]*Session
	textInflight map[string]struct{}
}

func NewOrchestrator(opts Options) *Orchestrator {
	return &Orchestrator{
		pipeline:      opts.Pipeline,
		threads:       opts.Threads,
		matcher:       opts.Matcher,
		segCfg:        opts.Segmenter,
		notifier:      opts.Notifier,
		events:        opts.Events,
		transcriptDir: opts.TranscriptDir,
		ackTrigger:    audio.Tone(880, 120, 0.25),
		ackDone:       audio.Tone(660, 120, 0.25),
		sessions:      make(map[string]*Session),
		textInflight:  make(map[string]struct{}),
	}
}

// Join creates the session for a voice channel. The transport adapter
// supplies the outbound frame sink and encoder for that channel.
func (o *Orchestrator) Join(guildID, channelID, textChannelID string, mode Mode, sink FrameSink, enc Encoder) (*Session, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		GuildID:       guildID,
		ChannelID:     channelID,
		TextChannelID: textChannelID,
		ThreadKey:     "voice:" + channelID,
		Mode:          mode,
		CreatedAt:     time.Now(),
		seg:           NewSegmenter(o.segCfg),
		playback:      NewPlayback(sink, enc),
		ctx:           ctx,
		ctxCancel:     cancel,
		utterCh:       make(chan Utterance, 16),
	}

	o.mu.Lock()
	if _, ok := o.sessions[channelID]; ok {
		o.mu.Unlock()
		cancel()
		return nil, ErrSessionExists
	}
	o.sessions[channelID] = s
	o.mu.Unlock()

	go o.sessionWorker(s)
	logging.Infow("session: joined",
		append(logging.SessionFields(guildID, channelID), "mode", mode.String())...)
	return s, nil
}

// Session returns the active session for a voice channel.
func (o *Orchestrator) Session(channelID string) (*Session, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[channelID]
	return s, ok
}

// Leave destroys the session for a voice channel from any state,
// cancelling anything in flight and releasing all nested resources. In
// transcribe mode the accumulated log is written to disk first.
func (o *Orchestrator) Leave(channelID string) error {
	o.mu.Lock()
	s, ok := o.sessions[channelID]
	if ok {
		delete(o.sessions, channelID)
	}
	o.mu.Unlock()
	if !ok {
		return ErrNoSession
	}

	s.mu.Lock()
	s.closed = true
	if s.cancelPending != nil {
		s.cancelPending()
		s.cancelPending = nil
	}
	s.state = StateIdle
	lines := s.transcript
	s.transcript = nil
	s.mu.Unlock()

	s.ctxCancel()
	s.playback.Cancel()
	// captures still open at teardown are finalized and discarded
	s.seg.FlushAll()

	if s.Mode == ModeTranscribe && len(lines) > 0 {
		if path, err := o.writeTranscript(s, lines); err != nil {
			logging.Warnw("session: transcript flush failed", "err", err, "channel.id", s.ChannelID)
		} else {
			o.notify(s, fmt.Sprintf("Transcript saved: %s", path))
		}
	}

	o.threads.Drop(s.ThreadKey)
	logging.Infow("session: left", logging.SessionFields(s.GuildID, s.ChannelID)...)
	return nil
}

// HandleFrame ingests one 20 ms PCM frame for a speaker. This path only
// buffers locally and never blocks on remote calls, so frame ingestion
// for every speaker continues while responses are in flight.
func (o *Orchestrator) HandleFrame(channelID, speakerID string, frame []int16) {
	o.mu.Lock()
	s, ok := o.sessions[channelID]
	o.mu.Unlock()
	if !ok || s.Closed() {
		return
	}
	if u, done := s.seg.Feed(speakerID, frame); done {
		s.enqueue(u)
	}
}

// SpeakerLeft finalizes any open capture for the speaker and discards the
// speaker's stream state.
func (o *Orchestrator) SpeakerLeft(channelID, speakerID string) {
	o.mu.Lock()
	s, ok := o.sessions[channelID]
	o.mu.Unlock()
	if !ok {
		return
	}
	if u, done := s.seg.FlushSpeaker(speakerID); done {
		s.enqueue(u)
	}
	s.seg.RemoveSpeaker(speakerID)
}

// HandleText runs the response pipeline for an addressed text message on
// its conversation thread. At most one response per thread is in flight;
// further messages are rejected with ErrBusy until it completes.
func (o *Orchestrator) HandleText(ctx context.Context, threadKey, text string) (string, error) {
	o.mu.Lock()
	if _, busy := o.textInflight[threadKey]; busy {
		o.mu.Unlock()
		return "", ErrBusy
	}
	o.textInflight[threadKey] = struct{}{}
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.textInflight, threadKey)
		o.mu.Unlock()
	}()

	res, err := o.pipeline.Run(ctx, threadKey, Input{Text: text, WantAudio: false})
	if err != nil {
		return "", err
	}
	o.publish(Event{Type: "reply", ChannelID: threadKey, Text: res.Reply, At: time.Now()})
	return res.Reply, nil
}

// sessionWorker consumes finalized utterances for one session in arrival
// order. One worker per session keeps utterance handling ordered without
// ever blocking frame ingestion.
func (o *Orchestrator) sessionWorker(s *Session) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case u := <-s.utterCh:
			o.handleUtterance(s, u)
		}
	}
}

// handleUtterance transcribes one utterance and applies the trigger
// decision. Transcription failures for untriggered background speech are
// logged and dropped rather than reported to the channel.
func (o *Orchestrator) handleUtterance(s *Session, u Utterance) {
	transcript, err := o.pipeline.STT.Transcribe(s.ctx, u.PCM, u.CorrelationID)
	if err != nil {
		logging.Warnw("utterance: transcription failed",
			logging.SpeakerFields(u.SpeakerID, u.CorrelationID)...)
		return
	}
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return
	}
	logging.Infow("utterance: transcript",
		append(logging.SpeakerFields(u.SpeakerID, u.CorrelationID),
			"text", transcript, "duration_ms", u.Duration.Milliseconds())...)
	o.publish(Event{
		Type: "transcript", ChannelID: s.ChannelID, SpeakerID: u.SpeakerID,
		Text: transcript, CorrelationID: u.CorrelationID, At: time.Now(),
	})
	if s.Mode == ModeTranscribe {
		s.appendTranscript(u.SpeakerID, transcript)
	}

	switch m := o.matcher.Match(transcript, s.Mode); m.Kind {
	case TriggerStop:
		o.stop(s)
	case TriggerActivate:
		o.activate(s, m.Cleaned, u.CorrelationID)
	}
}

// stop cancels whatever is in flight or playing. Stop with nothing to
// cancel is a no-op, not an error.
func (o *Orchestrator) stop(s *Session) {
	s.mu.Lock()
	switch s.state {
	case StateResponding:
		if s.cancelPending != nil {
			s.cancelPending()
			s.cancelPending = nil
		}
		s.state = StateIdle
		s.mu.Unlock()
		logging.Infow("stop: in-flight response cancelled", logging.SessionFields(s.GuildID, s.ChannelID)...)
	case StatePlaying:
		s.state = StateIdle
		s.handle = nil
		s.mu.Unlock()
		s.playback.Cancel()
		logging.Infow("stop: playback cancelled", logging.SessionFields(s.GuildID, s.ChannelID)...)
	default:
		s.mu.Unlock()
		logging.Debugw("stop: nothing in flight", logging.SessionFields(s.GuildID, s.ChannelID)...)
	}
}

// activate transitions Idle -> Responding and starts the pipeline for a
// triggered utterance. Triggers racing an in-flight response are dropped;
// in free mode a trigger during playback is a barge-in and cancels it.
func (o *Orchestrator) activate(s *Session, text, correlationID string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.state == StatePlaying && s.Mode == ModeFree {
		s.state = StateIdle
		s.handle = nil
		s.mu.Unlock()
		s.playback.Cancel()
		s.mu.Lock()
	}
	if s.state != StateIdle || s.closed {
		s.mu.Unlock()
		logging.Debugw("trigger dropped; session busy",
			append(logging.SessionFields(s.GuildID, s.ChannelID), "correlation_id", correlationID)...)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.state = StateResponding
	s.cancelPending = cancel
	s.mu.Unlock()

	if s.Mode != ModeSilent {
		s.playback.Play(context.Background(), o.ackTrigger)
	}
	go o.runResponse(ctx, s, text, correlationID)
}

// runResponse drives one pipeline invocation and the playback that
// follows it, returning the session to Idle however it ends.
func (o *Orchestrator) runResponse(ctx context.Context, s *Session, text, correlationID string) {
	res, err := o.pipeline.Run(ctx, s.ThreadKey, Input{Text: text, CorrelationID: correlationID, WantAudio: true})
	if err != nil {
		cancelled := ctx.Err() != nil
		s.mu.Lock()
		if s.cancelPending != nil {
			s.cancelPending()
			s.cancelPending = nil
		}
		if s.state == StateResponding {
			s.state = StateIdle
		}
		s.mu.Unlock()
		if cancelled {
			// stop or leave already moved the session on; discard
			return
		}
		o.reportFailure(s, err, correlationID)
		return
	}

	o.publish(Event{
		Type: "reply", ChannelID: s.ChannelID, Text: res.Reply,
		CorrelationID: correlationID, At: time.Now(),
	})

	s.mu.Lock()
	if s.state != StateResponding || s.closed {
		// a stop won the race; the result is discarded
		s.mu.Unlock()
		return
	}
	s.cancelPending = nil
	s.state = StatePlaying
	h := s.playback.Play(context.Background(), res.Audio)
	s.handle = h
	s.mu.Unlock()

	<-h.Done()

	s.mu.Lock()
	owned := s.handle == h
	if owned {
		s.handle = nil
		if s.state == StatePlaying {
			s.state = StateIdle
		}
	}
	silent := s.Mode == ModeSilent
	s.mu.Unlock()

	if owned && h.Err() == nil && !silent {
		s.playback.Play(context.Background(), o.ackDone)
	}
}

// reportFailure emits a short notice through the session's text channel
// and leaves the session listening. Stage failures are never fatal.
func (o *Orchestrator) reportFailure(s *Session, err error, correlationID string) {
	var msg string
	switch {
	case errors.Is(err, ErrTranscription):
		msg = "Sorry, I couldn't make out what was said."
	case errors.Is(err, ErrGeneration):
		msg = "Sorry, I couldn't come up with a reply."
	case errors.Is(err, ErrSynthesis):
		msg = "Sorry, I couldn't voice the reply."
	default:
		msg = "Sorry, something went wrong with that request."
	}
	logging.Warnw("response failed",
		append(logging.SessionFields(s.GuildID, s.ChannelID),
			"err", err, "correlation_id", correlationID)...)
	o.publish(Event{Type: "error", ChannelID: s.ChannelID, Text: err.Error(), CorrelationID: correlationID, At: time.Now()})
	o.notify(s, msg)
}

func (o *Orchestrator) notify(s *Session, msg string) {
	if o.notifier == nil || s.TextChannelID == "" {
		return
	}
	if err := o.notifier.SendNotice(s.TextChannelID, msg); err != nil {
		logging.Warnw("notice delivery failed", "err", err, "channel.id", s.TextChannelID)
	}
}

func (o *Orchestrator) publish(e Event) {
	if o.events != nil {
		o.events.Publish(e)
	}
}
