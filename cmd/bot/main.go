package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/sync/errgroup"

	"github.com/discord-voice-bridge/internal/config"
	"github.com/discord-voice-bridge/internal/conversation"
	"github.com/discord-voice-bridge/internal/discord"
	"github.com/discord-voice-bridge/internal/feed"
	"github.com/discord-voice-bridge/internal/llm"
	"github.com/discord-voice-bridge/internal/logging"
	"github.com/discord-voice-bridge/internal/stt"
	"github.com/discord-voice-bridge/internal/tts"
	"github.com/discord-voice-bridge/internal/voice"
)

func main() {
	sugar := logging.Init()
	defer func() { _ = logging.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		sugar.Fatalf("config: %v", err)
	}

	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		sugar.Fatalf("discordgo.New: %v", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent

	threads := conversation.NewTracker()
	pipeline := voice.NewPipeline(
		stt.NewClient(cfg.WhisperURL, cfg.WhisperLanguage, cfg.WhisperAuthToken, cfg.STTTimeout),
		llm.NewClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel, cfg.LLMSystemPrompt, cfg.LLMTimeout),
		tts.NewClient(cfg.TTSURL, cfg.TTSAuthToken, cfg.TTSTimeout),
		threads,
	)

	var hub *feed.Hub
	var events voice.EventSink
	if cfg.FeedAddr != "" {
		hub = feed.NewHub()
		events = hub
	}

	orch := voice.NewOrchestrator(voice.Options{
		Pipeline: pipeline,
		Threads:  threads,
		Matcher:  voice.NewMatcher(cfg.WakePhrases, cfg.StopPhrase),
		Segmenter: voice.SegmenterConfig{
			RMSThreshold:  cfg.VADRMSThreshold,
			StartFrames:   cfg.StartFrames,
			SilenceFrames: cfg.SilenceFrames,
			MinDuration:   cfg.MinUtterance,
			MaxDuration:   cfg.MaxUtterance,
		},
		Notifier:      discord.NewNotifier(session),
		Events:        events,
		TranscriptDir: cfg.TranscriptDir,
	})

	bot := discord.NewBot(session, orch, cfg.CommandPrefix)

	if err := session.Open(); err != nil {
		sugar.Fatalf("discord session open failed: %v", err)
	}
	logging.Infow("discord session opened", "prefix", cfg.CommandPrefix, "wake_phrases", cfg.WakePhrases)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	if hub != nil {
		srv := feed.NewServer(cfg.FeedAddr, hub)
		g.Go(srv.ListenAndServe)
		g.Go(func() error {
			<-ctx.Done()
			return srv.Shutdown(context.Background())
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		logging.Errorw("shutdown error", "err", err)
	}

	logging.Infow("shutting down")
	bot.Close()
	if err := session.Close(); err != nil {
		logging.Warnw("discord session close error", "err", err)
	}
	logging.Infow("shutdown complete")
}
