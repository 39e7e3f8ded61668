package voice

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/discord-voice-bridge/internal/audio"
	"github.com/discord-voice-bridge/internal/conversation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type orchFixture struct {
	o        *Orchestrator
	threads  *conversation.Tracker
	notifier *fakeNotifier
	sink     *fakeSink
	llm      *fakeLLM
	tts      *fakeTTS
}

func newOrchFixture(t *testing.T, stt Transcriber, llm *fakeLLM, tts *fakeTTS) *orchFixture {
	t.Helper()
	threads := conversation.NewTracker()
	notifier := &fakeNotifier{}
	o := NewOrchestrator(Options{
		Pipeline:      NewPipeline(stt, llm, tts, threads),
		Threads:       threads,
		Matcher:       NewMatcher([]string{"bot"}, "stop"),
		Segmenter:     testSegConfig(),
		Notifier:      notifier,
		TranscriptDir: t.TempDir(),
	})
	return &orchFixture{o: o, threads: threads, notifier: notifier, sink: &fakeSink{}, llm: llm, tts: tts}
}

func (f *orchFixture) join(t *testing.T, mode Mode) *Session {
	t.Helper()
	s, err := f.o.Join("g1", "vc1", "tc1", mode, f.sink, rawEncoder{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.o.Leave("vc1") })
	return s
}

func utter(id string) Utterance {
	return Utterance{SpeakerID: "alice", PCM: make([]int16, 10*audio.FrameSamples), CorrelationID: id, Duration: 200 * time.Millisecond}
}

func TestJoinLeaveLifecycle(t *testing.T) {
	f := newOrchFixture(t, echoSTT("hi"), &fakeLLM{reply: "x"}, &fakeTTS{})

	s, err := f.o.Join("g1", "vc1", "tc1", ModeNormal, f.sink, rawEncoder{})
	require.NoError(t, err)
	assert.Equal(t, StateIdle, s.State())

	_, err = f.o.Join("g1", "vc1", "tc1", ModeNormal, f.sink, rawEncoder{})
	assert.ErrorIs(t, err, ErrSessionExists)

	got, ok := f.o.Session("vc1")
	require.True(t, ok)
	assert.Same(t, s, got)

	require.NoError(t, f.o.Leave("vc1"))
	assert.True(t, s.Closed())
	assert.ErrorIs(t, f.o.Leave("vc1"), ErrNoSession)
	_, ok = f.o.Session("vc1")
	assert.False(t, ok)
}

func TestNormalModeEndToEnd(t *testing.T) {
	llm := &fakeLLM{reply: "Four."}
	tts := &fakeTTS{pcm: make([]int16, 3*audio.FrameSamples)}
	f := newOrchFixture(t, echoSTT("bot what's two plus two"), llm, tts)
	f.join(t, ModeNormal)

	// ten voiced frames then silence closes the utterance
	for i := 0; i < 10; i++ {
		f.o.HandleFrame("vc1", "alice", voicedFrame())
	}
	for i := 0; i < 3; i++ {
		f.o.HandleFrame("vc1", "alice", silentFrame())
	}

	require.Eventually(t, func() bool {
		return llm.callCount() == 1 && f.sink.count() > 0
	}, 3*time.Second, 10*time.Millisecond)

	s, _ := f.o.Session("vc1")
	require.Eventually(t, func() bool { return s.State() == StateIdle }, 3*time.Second, 10*time.Millisecond)

	hist := f.threads.History(s.ThreadKey)
	require.Len(t, hist, 1)
	assert.Equal(t, "what's two plus two", hist[0].Input)
	assert.Equal(t, "Four.", hist[0].Reply)
}

func TestUntriggeredSpeechIsIgnored(t *testing.T) {
	llm := &fakeLLM{reply: "x"}
	f := newOrchFixture(t, echoSTT("just chatting with friends"), llm, &fakeTTS{})
	s := f.join(t, ModeNormal)

	f.o.handleUtterance(s, utter("c1"))

	assert.Equal(t, 0, llm.callCount())
	assert.Equal(t, StateIdle, s.State())
	assert.Empty(t, f.threads.History(s.ThreadKey))
}

func TestTriggerWhileRespondingIsDropped(t *testing.T) {
	llm := &fakeLLM{reply: "x", delay: 300 * time.Millisecond}
	f := newOrchFixture(t, echoSTT("anything at all"), llm, &fakeTTS{pcm: make([]int16, audio.FrameSamples)})
	s := f.join(t, ModeFree)

	f.o.handleUtterance(s, utter("c1"))
	require.Eventually(t, func() bool { return s.State() == StateResponding }, time.Second, 5*time.Millisecond)

	// second trigger lands while the first response is still in flight
	f.o.handleUtterance(s, utter("c2"))

	require.Eventually(t, func() bool { return s.State() == StateIdle }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, f.llm.callCount(), "racing trigger must be dropped, not queued")
}

func TestConcurrentTriggersStartOneResponse(t *testing.T) {
	llm := &fakeLLM{reply: "x", delay: 200 * time.Millisecond}
	f := newOrchFixture(t, echoSTT(""), llm, &fakeTTS{pcm: make([]int16, audio.FrameSamples)})
	s := f.join(t, ModeSilent)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.o.activate(s, "hello", "cid")
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return s.State() == StateIdle }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, llm.callCount())
}

func TestStopCancelsPlayback(t *testing.T) {
	// five seconds of reply audio keeps the session in Playing
	tts := &fakeTTS{pcm: make([]int16, 250*audio.FrameSamples)}
	stt := &scriptedSTT{outs: []string{"bot tell me a story", "stop"}}
	f := newOrchFixture(t, stt, &fakeLLM{reply: "once upon a time"}, tts)
	s := f.join(t, ModeSilent)

	f.o.handleUtterance(s, utter("c1"))
	require.Eventually(t, func() bool {
		return s.State() == StatePlaying && f.sink.count() > 0
	}, 3*time.Second, 5*time.Millisecond)

	f.o.handleUtterance(s, utter("c2"))
	assert.Equal(t, StateIdle, s.State())

	sent := f.sink.count()
	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, sent, f.sink.count(), "no frames may follow a stop")

	// the exchange was committed before playback, so history survives the stop
	assert.Len(t, f.threads.History(s.ThreadKey), 1)
}

func TestStopCancelsInFlightResponse(t *testing.T) {
	llm := &fakeLLM{reply: "x", delay: 2 * time.Second}
	stt := &scriptedSTT{outs: []string{"bot hello", "stop"}}
	f := newOrchFixture(t, stt, llm, &fakeTTS{})
	s := f.join(t, ModeSilent)

	f.o.handleUtterance(s, utter("c1"))
	require.Eventually(t, func() bool { return s.State() == StateResponding }, time.Second, 5*time.Millisecond)

	f.o.handleUtterance(s, utter("c2"))
	assert.Equal(t, StateIdle, s.State())

	// the cancelled invocation must not commit or notify
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, f.threads.History(s.ThreadKey))
	assert.Equal(t, 0, f.notifier.count())
}

func TestStopWhenIdleIsNoOp(t *testing.T) {
	f := newOrchFixture(t, echoSTT("stop"), &fakeLLM{reply: "x"}, &fakeTTS{})
	s := f.join(t, ModeNormal)

	f.o.handleUtterance(s, utter("c1"))
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, 0, f.notifier.count())
}

func TestFreeModeBargeIn(t *testing.T) {
	tts := &fakeTTS{pcm: make([]int16, 250*audio.FrameSamples)}
	llm := &fakeLLM{reply: "long answer"}
	f := newOrchFixture(t, echoSTT("tell me more"), llm, tts)
	s := f.join(t, ModeFree)

	f.o.handleUtterance(s, utter("c1"))
	require.Eventually(t, func() bool { return s.State() == StatePlaying }, 3*time.Second, 5*time.Millisecond)

	// a new utterance during playback cancels it and starts a fresh response
	f.o.handleUtterance(s, utter("c2"))

	require.Eventually(t, func() bool { return llm.callCount() == 2 }, 3*time.Second, 10*time.Millisecond)
}

func TestGenerationFailureRecovers(t *testing.T) {
	llm := &fakeLLM{err: errors.New("backend down")}
	f := newOrchFixture(t, echoSTT("bot hello"), llm, &fakeTTS{})
	s := f.join(t, ModeSilent)

	f.o.handleUtterance(s, utter("c1"))

	require.Eventually(t, func() bool {
		return s.State() == StateIdle && f.notifier.count() == 1
	}, 3*time.Second, 10*time.Millisecond)
	assert.Empty(t, f.threads.History(s.ThreadKey), "failed exchange must not enter history")

	// session keeps listening and can serve the next trigger
	llm.mu.Lock()
	llm.err = nil
	llm.reply = "recovered"
	llm.mu.Unlock()
	f.o.handleUtterance(s, utter("c2"))
	require.Eventually(t, func() bool {
		return len(f.threads.History(s.ThreadKey)) == 1
	}, 3*time.Second, 10*time.Millisecond)
}

func TestTranscriptionFailureIsSilent(t *testing.T) {
	stt := &scriptedSTT{err: errors.New("whisper down")}
	f := newOrchFixture(t, stt, &fakeLLM{reply: "x"}, &fakeTTS{})
	s := f.join(t, ModeNormal)

	f.o.handleUtterance(s, utter("c1"))

	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, 0, f.notifier.count(), "background speech failures stay out of the channel")
}

func TestTranscribeModeWritesFileOnLeave(t *testing.T) {
	stt := &scriptedSTT{outs: []string{"hello world", "second line"}}
	f := newOrchFixture(t, stt, &fakeLLM{reply: "x"}, &fakeTTS{})
	s := f.join(t, ModeTranscribe)
	dir := f.o.transcriptDir

	f.o.handleUtterance(s, utter("c1"))
	f.o.handleUtterance(s, utter("c2"))
	require.NoError(t, f.o.Leave("vc1"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello world")
	assert.Contains(t, string(data), "second line")
	assert.Contains(t, string(data), "alice")

	require.Equal(t, 1, f.notifier.count())
	assert.Contains(t, f.notifier.notices[0], "Transcript saved")
}

func TestHandleTextSerializesPerThread(t *testing.T) {
	llm := &fakeLLM{reply: "pong", delay: 200 * time.Millisecond}
	f := newOrchFixture(t, echoSTT(""), llm, &fakeTTS{})

	done := make(chan error, 1)
	go func() {
		_, err := f.o.HandleText(context.Background(), "text:1", "ping")
		done <- err
	}()

	require.Eventually(t, func() bool { return llm.callCount() == 1 }, time.Second, 5*time.Millisecond)
	_, err := f.o.HandleText(context.Background(), "text:1", "ping again")
	assert.ErrorIs(t, err, ErrBusy)

	// a different thread is not blocked
	reply, err := f.o.HandleText(context.Background(), "text:2", "ping")
	require.NoError(t, err)
	assert.Equal(t, "pong", reply)

	require.NoError(t, <-done)
	assert.Len(t, f.threads.History("text:1"), 1)

	// the slot is released once the first response completes
	_, err = f.o.HandleText(context.Background(), "text:1", "third")
	require.NoError(t, err)
}

func TestSpeakerLeftFlushesOpenCapture(t *testing.T) {
	llm := &fakeLLM{reply: "bye"}
	f := newOrchFixture(t, echoSTT("bot goodbye"), llm, &fakeTTS{pcm: make([]int16, audio.FrameSamples)})
	f.join(t, ModeSilent)

	for i := 0; i < 10; i++ {
		f.o.HandleFrame("vc1", "alice", voicedFrame())
	}
	f.o.SpeakerLeft("vc1", "alice")

	require.Eventually(t, func() bool { return llm.callCount() == 1 }, 3*time.Second, 10*time.Millisecond)
}

func TestLeaveDropsThreadHistory(t *testing.T) {
	f := newOrchFixture(t, echoSTT("bot hi"), &fakeLLM{reply: "hello"}, &fakeTTS{pcm: make([]int16, audio.FrameSamples)})
	s := f.join(t, ModeSilent)

	f.o.handleUtterance(s, utter("c1"))
	require.Eventually(t, func() bool {
		return len(f.threads.History(s.ThreadKey)) == 1
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, f.o.Leave("vc1"))
	assert.Empty(t, f.threads.History(s.ThreadKey))
	assert.Equal(t, 0, f.threads.Len())
}

func TestUnknownChannelFrameIsIgnored(t *testing.T) {
	f := newOrchFixture(t, echoSTT(""), &fakeLLM{}, &fakeTTS{})
	f.o.HandleFrame("nowhere", "alice", voicedFrame())
	f.o.SpeakerLeft("nowhere", "alice")
}

func TestParseMode(t *testing.T) {
	cases := map[string]Mode{
		"normal":     ModeNormal,
		"free":       ModeFree,
		"silent":     ModeSilent,
		"transcribe": ModeTranscribe,
	}
	for in, want := range cases {
		got := ParseMode(in)
		assert.Equal(t, want, got)
		assert.Equal(t, in, got.String())
	}
	assert.Equal(t, ModeNormal, ParseMode("loud"))
}
