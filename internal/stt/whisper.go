// Package stt talks to a Whisper-compatible transcription service over
// HTTP. Captured PCM is wrapped in a WAV container and POSTed; the
// service answers with JSON carrying the transcript text.
package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/discord-voice-bridge/internal/audio"
	"github.com/discord-voice-bridge/internal/logging"
)

// Client is a transcription client for one Whisper endpoint.
type Client struct {
	url       string
	authToken string
	http      *http.Client
}

// NewClient builds a client for the given endpoint. A non-empty language
// is pinned as a query parameter so the service skips detection.
func NewClient(rawURL, language, authToken string, timeout time.Duration) *Client {
	endpoint := rawURL
	if language != "" {
		if u, err := url.Parse(rawURL); err == nil {
			q := u.Query()
			q.Set("language", language)
			u.RawQuery = q.Encode()
			endpoint = u.String()
		}
	}
	return &Client{
		url:       endpoint,
		authToken: authToken,
		http:      &http.Client{Timeout: timeout},
	}
}

// Transcribe sends one utterance and returns the transcript. A failed
// call is reported to the caller as-is; whether to drop or surface it is
// the caller's policy.
func (c *Client) Transcribe(ctx context.Context, pcm []int16, correlationID string) (string, error) {
	wav := audio.BuildWAV(pcm, audio.SampleRate, audio.Channels)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(wav))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "audio/wav")
	if correlationID != "" {
		req.Header.Set("X-Correlation-ID", correlationID)
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	start := time.Now()
	logging.Debugw("stt: sending audio",
		"bytes", len(wav), "samples", len(pcm), "correlation_id", correlationID)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("stt returned status %d", resp.StatusCode)
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("stt response decode: %w", err)
	}

	logging.Debugw("stt: transcript received",
		"latency_ms", time.Since(start).Milliseconds(),
		"chars", len(out.Text), "correlation_id", correlationID)
	return out.Text, nil
}
