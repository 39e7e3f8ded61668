package discord

import (
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/hraban/opus"

	"github.com/discord-voice-bridge/internal/audio"
	"github.com/discord-voice-bridge/internal/logging"
	"github.com/discord-voice-bridge/internal/voice"
)

// Receiver consumes inbound opus packets for one voice connection,
// decodes them per SSRC and feeds PCM frames into the orchestrator.
// SSRC to user mapping comes from speaking updates on the voice
// websocket; packets that arrive before their SSRC is mapped are
// dropped, since unattributed audio cannot be segmented per speaker.
type Receiver struct {
	orch      *voice.Orchestrator
	channelID string

	mu       sync.Mutex
	users    map[uint32]string
	decoders map[uint32]*opus.Decoder
	closed   bool
}

func NewReceiver(orch *voice.Orchestrator, channelID string) *Receiver {
	return &Receiver{
		orch:      orch,
		channelID: channelID,
		users:     make(map[uint32]string),
		decoders:  make(map[uint32]*opus.Decoder),
	}
}

// HandleSpeaking records the SSRC -> user mapping announced on the voice
// websocket.
func (r *Receiver) HandleSpeaking(_ *discordgo.VoiceConnection, su *discordgo.VoiceSpeakingUpdate) {
	r.mu.Lock()
	r.users[uint32(su.SSRC)] = su.UserID
	r.mu.Unlock()
	logging.Debugw("receiver: ssrc mapped", "ssrc", su.SSRC, "user_id", su.UserID, "speaking", su.Speaking)
}

// Run drains the connection's receive channel until it closes or the
// receiver is shut down.
func (r *Receiver) Run(vc *discordgo.VoiceConnection) {
	for pkt := range vc.OpusRecv {
		if r.isClosed() {
			return
		}
		r.handlePacket(pkt)
	}
}

// Close stops packet handling; in-flight channel reads drain harmlessly.
func (r *Receiver) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// SpeakerGone finalizes the speaker's open capture and forgets the SSRC
// mappings pointing at them.
func (r *Receiver) SpeakerGone(userID string) {
	r.mu.Lock()
	for ssrc, uid := range r.users {
		if uid == userID {
			delete(r.users, ssrc)
			delete(r.decoders, ssrc)
		}
	}
	r.mu.Unlock()
	r.orch.SpeakerLeft(r.channelID, userID)
}

func (r *Receiver) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Receiver) handlePacket(pkt *discordgo.Packet) {
	r.mu.Lock()
	uid := r.users[uint32(pkt.SSRC)]
	if uid == "" {
		r.mu.Unlock()
		return
	}
	dec, ok := r.decoders[uint32(pkt.SSRC)]
	if !ok {
		var err error
		dec, err = opus.NewDecoder(audio.SampleRate, audio.Channels)
		if err != nil {
			r.mu.Unlock()
			logging.Errorw("receiver: decoder init failed", "ssrc", pkt.SSRC, "err", err)
			return
		}
		r.decoders[uint32(pkt.SSRC)] = dec
	}
	r.mu.Unlock()

	pcm := make([]int16, audio.FrameSamples)
	n, err := dec.Decode(pkt.Opus, pcm)
	if err != nil {
		logging.Warnw("receiver: opus decode error", "ssrc", pkt.SSRC, "err", err)
		return
	}
	// short packets are zero-padded to a full 20 ms frame
	if n < audio.FrameSamples {
		for i := n; i < audio.FrameSamples; i++ {
			pcm[i] = 0
		}
	}
	r.orch.HandleFrame(r.channelID, uid, pcm)
}
