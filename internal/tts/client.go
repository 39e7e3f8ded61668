// Package tts synthesizes speech through an external HTTP service that
// accepts JSON text and answers with WAV audio.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/discord-voice-bridge/internal/audio"
	"github.com/discord-voice-bridge/internal/logging"
)

// Client is a synthesis client for one TTS endpoint.
type Client struct {
	url       string
	authToken string
	http      *http.Client
}

func NewClient(url, authToken string, timeout time.Duration) *Client {
	return &Client{
		url:       url,
		authToken: authToken,
		http:      &http.Client{Timeout: timeout},
	}
}

// Synthesize converts reply text to playable PCM. The service's WAV
// container is unwrapped here so callers only ever see raw samples.
func (c *Client) Synthesize(ctx context.Context, text string) ([]int16, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("tts returned status %d", resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	pcm, err := audio.ParseWAV(wav)
	if err != nil {
		return nil, fmt.Errorf("tts response: %w", err)
	}

	logging.Debugw("tts: audio synthesized",
		"chars", len(text), "samples", len(pcm),
		"latency_ms", time.Since(start).Milliseconds())
	return pcm, nil
}
