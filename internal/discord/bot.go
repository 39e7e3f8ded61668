// Package discord binds the session orchestrator to a Discord gateway:
// text commands, voice connection lifecycle, audio transport in both
// directions, and mention-addressed text conversations.
package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/discord-voice-bridge/internal/logging"
	"github.com/discord-voice-bridge/internal/voice"
)

// Notifier delivers orchestrator notices as plain channel messages.
type Notifier struct {
	s *discordgo.Session
}

func NewNotifier(s *discordgo.Session) *Notifier {
	return &Notifier{s: s}
}

func (n *Notifier) SendNotice(channelID, msg string) error {
	_, err := n.s.ChannelMessageSend(channelID, msg)
	return err
}

type activeConn struct {
	guildID  string
	vc       *discordgo.VoiceConnection
	receiver *Receiver
}

// Bot owns the gateway handlers. One voice session per guild.
type Bot struct {
	session *discordgo.Session
	orch    *voice.Orchestrator
	prefix  string
	names   *Resolver

	mu      sync.Mutex
	conns   map[string]*activeConn // voice channel ID -> connection
	byGuild map[string]string      // guild ID -> voice channel ID
	threads map[string]string      // message ID -> text thread key
}

func NewBot(session *discordgo.Session, orch *voice.Orchestrator, prefix string) *Bot {
	b := &Bot{
		session: session,
		orch:    orch,
		prefix:  prefix,
		names:   NewResolver(session),
		conns:   make(map[string]*activeConn),
		byGuild: make(map[string]string),
		threads: make(map[string]string),
	}
	session.AddHandler(b.handleMessage)
	session.AddHandler(b.handleVoiceState)
	return b
}

// Close tears down every active voice session.
func (b *Bot) Close() {
	b.mu.Lock()
	channels := make([]string, 0, len(b.conns))
	for id := range b.conns {
		channels = append(channels, id)
	}
	b.mu.Unlock()
	for _, id := range channels {
		if err := b.leaveChannel(id); err != nil {
			logging.Warnw("bot: leave on close failed", "channel.id", id, "err", err)
		}
	}
}

func (b *Bot) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}

	content := strings.TrimSpace(m.Content)
	if strings.HasPrefix(content, b.prefix) {
		b.handleCommand(m, strings.Fields(strings.TrimPrefix(content, b.prefix)))
		return
	}
	if b.isMentioned(m) {
		b.handleMention(m)
	}
}

func (b *Bot) handleCommand(m *discordgo.MessageCreate, args []string) {
	if len(args) == 0 {
		b.reply(m, fmt.Sprintf("Usage: %s join [normal|free|silent|transcribe] | %s leave", b.prefix, b.prefix))
		return
	}
	switch args[0] {
	case "join":
		mode := voice.ModeNormal
		if len(args) > 1 {
			mode = voice.ParseMode(args[1])
		}
		channelID := b.authorVoiceChannel(m)
		if channelID == "" {
			b.reply(m, "Join a voice channel first, then ask me again.")
			return
		}
		if err := b.joinChannel(m.GuildID, channelID, m.ChannelID, mode); err != nil {
			logging.Warnw("bot: join failed", "channel.id", channelID, "err", err)
			if errors.Is(err, voice.ErrSessionExists) {
				b.reply(m, "I'm already in a voice channel here.")
			} else {
				b.reply(m, "I couldn't join that voice channel.")
			}
			return
		}
		name := b.names.ChannelName(channelID)
		if name == "" {
			name = channelID
		}
		b.reply(m, fmt.Sprintf("Joined %s in %s mode.", name, mode))
	case "leave":
		b.mu.Lock()
		channelID := b.byGuild[m.GuildID]
		b.mu.Unlock()
		if channelID == "" {
			b.reply(m, "I'm not in a voice channel here.")
			return
		}
		if err := b.leaveChannel(channelID); err != nil {
			logging.Warnw("bot: leave failed", "channel.id", channelID, "err", err)
			b.reply(m, "Something went wrong while leaving.")
			return
		}
		b.reply(m, "Left the voice channel.")
	default:
		b.reply(m, fmt.Sprintf("Unknown command %q. Try %s join or %s leave.", args[0], b.prefix, b.prefix))
	}
}

// joinChannel connects to the voice channel and wires a session through
// the orchestrator.
func (b *Bot) joinChannel(guildID, channelID, textChannelID string, mode voice.Mode) error {
	vc, err := b.session.ChannelVoiceJoin(guildID, channelID, false, false)
	if err != nil {
		return err
	}
	enc, err := newOpusEncoder()
	if err != nil {
		_ = vc.Disconnect()
		return err
	}
	if _, err := b.orch.Join(guildID, channelID, textChannelID, mode, newVoiceSink(vc), enc); err != nil {
		_ = vc.Disconnect()
		return err
	}

	recv := NewReceiver(b.orch, channelID)
	vc.AddHandler(recv.HandleSpeaking)
	go recv.Run(vc)

	b.mu.Lock()
	b.conns[channelID] = &activeConn{guildID: guildID, vc: vc, receiver: recv}
	b.byGuild[guildID] = channelID
	b.mu.Unlock()
	return nil
}

func (b *Bot) leaveChannel(channelID string) error {
	b.mu.Lock()
	conn, ok := b.conns[channelID]
	if ok {
		delete(b.conns, channelID)
		delete(b.byGuild, conn.guildID)
	}
	b.mu.Unlock()
	if !ok {
		return voice.ErrNoSession
	}

	if err := b.orch.Leave(channelID); err != nil && !errors.Is(err, voice.ErrNoSession) {
		logging.Warnw("bot: orchestrator leave failed", "channel.id", channelID, "err", err)
	}
	conn.receiver.Close()
	return conn.vc.Disconnect()
}

// handleVoiceState flushes a speaker's open capture when they leave the
// watched channel.
func (b *Bot) handleVoiceState(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
	if vs.BeforeUpdate == nil || vs.BeforeUpdate.ChannelID == "" {
		return
	}
	if s.State.User != nil && vs.UserID == s.State.User.ID {
		return
	}
	if vs.ChannelID == vs.BeforeUpdate.ChannelID {
		return
	}
	b.mu.Lock()
	conn, ok := b.conns[vs.BeforeUpdate.ChannelID]
	b.mu.Unlock()
	if !ok {
		return
	}
	logging.Debugw("bot: speaker left voice channel", "user_id", vs.UserID, "channel.id", vs.BeforeUpdate.ChannelID)
	conn.receiver.SpeakerGone(vs.UserID)
}

// handleMention runs a text conversation turn. Reply chains share one
// thread; a fresh mention starts a new one.
func (b *Bot) handleMention(m *discordgo.MessageCreate) {
	text := b.stripMentions(m.Content)
	if text == "" {
		return
	}
	key := b.threadKeyFor(m)

	reply, err := b.orch.HandleText(context.Background(), key, text)
	if err != nil {
		if errors.Is(err, voice.ErrBusy) {
			b.reply(m, "Hold on, I'm still answering the previous message.")
		} else {
			logging.Warnw("bot: text response failed", "thread", key, "err", err)
			b.reply(m, "Sorry, something went wrong with that request.")
		}
		return
	}

	sent, err := b.session.ChannelMessageSendReply(m.ChannelID, reply, m.Reference())
	if err != nil {
		logging.Warnw("bot: reply send failed", "channel.id", m.ChannelID, "err", err)
		return
	}
	b.mu.Lock()
	b.threads[m.ID] = key
	b.threads[sent.ID] = key
	b.mu.Unlock()
}

// threadKeyFor resolves the conversation thread for a message: replies
// continue the thread of the message they reference.
func (b *Bot) threadKeyFor(m *discordgo.MessageCreate) string {
	if m.MessageReference != nil && m.MessageReference.MessageID != "" {
		b.mu.Lock()
		key, ok := b.threads[m.MessageReference.MessageID]
		b.mu.Unlock()
		if ok {
			return key
		}
		return "text:" + m.MessageReference.MessageID
	}
	return "text:" + m.ID
}

func (b *Bot) isMentioned(m *discordgo.MessageCreate) bool {
	if b.session.State.User == nil {
		return false
	}
	for _, u := range m.Mentions {
		if u.ID == b.session.State.User.ID {
			return true
		}
	}
	return false
}

func (b *Bot) stripMentions(content string) string {
	if b.session.State.User != nil {
		id := b.session.State.User.ID
		content = strings.ReplaceAll(content, "<@"+id+">", "")
		content = strings.ReplaceAll(content, "<@!"+id+">", "")
	}
	return strings.TrimSpace(content)
}

// authorVoiceChannel finds the voice channel the command author is in.
func (b *Bot) authorVoiceChannel(m *discordgo.MessageCreate) string {
	g, err := b.session.State.Guild(m.GuildID)
	if err != nil || g == nil {
		return ""
	}
	for _, vs := range g.VoiceStates {
		if vs.UserID == m.Author.ID {
			return vs.ChannelID
		}
	}
	return ""
}

func (b *Bot) reply(m *discordgo.MessageCreate, msg string) {
	if _, err := b.session.ChannelMessageSend(m.ChannelID, msg); err != nil {
		logging.Warnw("bot: message send failed", "channel.id", m.ChannelID, "err", err)
	}
}
