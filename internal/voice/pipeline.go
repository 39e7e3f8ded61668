package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/discord-voice-bridge/internal/conversation"
	"github.com/discord-voice-bridge/internal/logging"
)

// Stage failure kinds. Each remote stage wraps its error with exactly one
// of these so callers can classify with errors.Is.
var (
	ErrTranscription = errors.New("transcription failed")
	ErrGeneration    = errors.New("generation failed")
	ErrSynthesis     = errors.New("synthesis failed")
)

// Transcriber converts captured PCM audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []int16, correlationID string) (string, error)
}

// Generator produces a reply from the conversation history and new input.
type Generator interface {
	Generate(ctx context.Context, history []conversation.Exchange, input string) (string, error)
}

// Synthesizer converts reply text to PCM audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]int16, error)
}

// Input is one pipeline invocation. Exactly one of Text or PCM is set.
type Input struct {
	Text          string
	PCM           []int16
	CorrelationID string
	// WantAudio selects whether the synthesis stage runs. Text-channel
	// interactions skip it entirely.
	WantAudio bool
}

// Result is the successful outcome of a pipeline invocation.
type Result struct {
	Transcript string
	Reply      string
	Audio      []int16
}

// Pipeline sequences transcription, generation and synthesis against the
// remote backends. Stages run strictly in order, each is a single remote
// call with no retry here, and the first failure short-circuits the rest.
type Pipeline struct {
	STT     Transcriber
	LLM     Generator
	TTS     Synthesizer
	Threads *conversation.Tracker
}

func NewPipeline(stt Transcriber, llm Generator, tts Synthesizer, threads *conversation.Tracker) *Pipeline {
	return &Pipeline{STT: stt, LLM: llm, TTS: tts, Threads: threads}
}

// Run executes the pipeline for one input on the given conversation
// thread. The new exchange is appended to the thread only after every
// requested stage succeeded and the context is still live, so a cancelled
// invocation never commits a result.
func (p *Pipeline) Run(ctx context.Context, threadKey string, in Input) (Result, error) {
	var res Result
	start := time.Now()

	text := strings.TrimSpace(in.Text)
	if len(in.PCM) > 0 {
		transcript, err := p.STT.Transcribe(ctx, in.PCM, in.CorrelationID)
		if err != nil {
			return res, fmt.Errorf("%w: %v", ErrTranscription, err)
		}
		res.Transcript = strings.TrimSpace(transcript)
		text = res.Transcript
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	if text == "" {
		return res, fmt.Errorf("%w: empty input", ErrGeneration)
	}

	history := p.Threads.History(threadKey)
	reply, err := p.LLM.Generate(ctx, history, text)
	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	res.Reply = strings.TrimSpace(reply)
	if err := ctx.Err(); err != nil {
		return res, err
	}

	if in.WantAudio {
		pcm, err := p.TTS.Synthesize(ctx, res.Reply)
		if err != nil {
			return res, fmt.Errorf("%w: %v", ErrSynthesis, err)
		}
		res.Audio = pcm
		if err := ctx.Err(); err != nil {
			return res, err
		}
	}

	p.Threads.Append(threadKey, conversation.Exchange{Input: text, Reply: res.Reply})
	logging.Infow("pipeline: response produced",
		"thread", threadKey, "correlation_id", in.CorrelationID,
		"input_len", len(text), "reply_len", len(res.Reply),
		"audio_samples", len(res.Audio), "elapsed_ms", time.Since(start).Milliseconds())
	return res, nil
}
