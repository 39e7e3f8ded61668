package discord

import (
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/hraban/opus"

	"github.com/discord-voice-bridge/internal/audio"
)

// voiceSink adapts a discordgo voice connection to the frame sink the
// playback controller drives.
type voiceSink struct {
	vc *discordgo.VoiceConnection
}

func newVoiceSink(vc *discordgo.VoiceConnection) *voiceSink {
	return &voiceSink{vc: vc}
}

// SendFrame hands one encoded frame to the connection's send channel.
// The playback controller paces frames, so a full buffer means the
// connection itself has stalled.
func (s *voiceSink) SendFrame(frame []byte) error {
	select {
	case s.vc.OpusSend <- frame:
		return nil
	case <-time.After(time.Second):
		return fmt.Errorf("voice send buffer stalled")
	}
}

func (s *voiceSink) Speaking(on bool) error {
	return s.vc.Speaking(on)
}

// maxOpusFrame bounds one encoded 20 ms frame.
const maxOpusFrame = 1275

// opusEncoder encodes outbound PCM frames. It is used by one playback
// stream at a time, never concurrently.
type opusEncoder struct {
	enc *opus.Encoder
	buf []byte
}

func newOpusEncoder() (*opusEncoder, error) {
	enc, err := opus.NewEncoder(audio.SampleRate, audio.Channels, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	return &opusEncoder{enc: enc, buf: make([]byte, maxOpusFrame)}, nil
}

func (e *opusEncoder) Encode(pcm []int16) ([]byte, error) {
	n, err := e.enc.Encode(pcm, e.buf)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, e.buf[:n])
	return out, nil
}
