package discord

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"unmute-bot/internal/audio"
	"unmute-bot/internal/commands"
	"unmute-bot/internal/config"
	"unmute-bot/internal/discordtypes"
	"unmute-bot/internal/greeting"
	"unmute-bot/internal/metrics"
	"unmute-bot/internal/mutewatch"
	"unmute-bot/internal/voice"
	"unmute-bot/pkg/cmd"
	"unmute-bot/pkg/jobmgr"

	"github.com/bwmarrin/discordgo"
)

// Bot is a Discord bot
type Bot struct {
	cfg  *config.Config
	dg   *discordgo.Session
	jobs *jobmgr.Manager

	platform   *Platform
	transcoder *audio.Transcoder
	voice      *voice.Manager
	watcher    *mutewatch.Watcher
	greeter    *greeting.Trigger
	registry   *cmd.Registry

	readyOnce sync.Once
	ctx       context.Context
}

// NewBot wires the session and every voice component. Nothing talks to
// Discord until Run.
func NewBot(cfg *config.Config, jobs *jobmgr.Manager, m *metrics.Metrics) (*Bot, error) {
	dg, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	catalogue, err := audio.NewCatalogue(cfg.AudioDir, cfg.DefaultJoinAudio, os.LookupEnv)
	if err != nil {
		return nil, err
	}
	for _, g := range catalogue.Greetings() {
		if g.UserID == "" {
			log.Printf("[WARN] [Greeting] %s has no user id configured", g.File)
			continue
		}
		log.Printf("[INFO] [Greeting] %s bound to user %s", g.File, g.UserID)
	}

	transcoder := audio.NewTranscoder(audio.FindFFmpeg(cfg.FFmpegPath), cfg.AudioDir, cfg.EncodeWorkers)
	transcoder.Metrics = m

	platform := NewPlatform(dg)
	b := &Bot{
		cfg:        cfg,
		dg:         dg,
		jobs:       jobs,
		platform:   platform,
		transcoder: transcoder,
		registry:   cmd.NewRegistry(),
	}

	b.voice = voice.NewManager(NewGateway(dg), audio.NewStreamer(cfg.FFmpegPath), jobs, voice.Options{
		RejoinInterval: cfg.RejoinInterval(),
		Metrics:        m,
	})
	b.watcher = mutewatch.New(platform, jobs, mutewatch.Options{
		MonitoredRoleID: cfg.MonitoredRoleID,
		Metrics:         m,
	})
	b.greeter = greeting.New(b.voice, catalogue, platform, jobs, greeting.Options{
		SettleDelay: cfg.JoinAudioDelay(),
		Metrics:     m,
	})

	commands.Register(b.registry, commands.Deps{
		Voice:         b.voice,
		Catalogue:     catalogue,
		Encoder:       transcoder,
		Channels:      platform,
		Jobs:          jobs,
		HomeChannelID: cfg.MoldaChannelID,
	})

	b.configureIntents()
	dg.AddHandler(b.onReady)
	dg.AddHandler(b.onVoiceStateUpdate)
	dg.AddHandler(b.onMessageCreate)
	dg.AddHandler(b.onGuildDelete)

	return b, nil
}

// Voice exposes the session manager to the ops server.
func (b *Bot) Voice() *voice.Manager { return b.voice }

// Run opens the gateway and blocks until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.ctx = ctx

	if err := b.dg.Open(); err != nil {
		return fmt.Errorf("failed to open Discord session: %w", err)
	}

	<-ctx.Done()
	log.Println("[INFO] ❎ Shutdown signal received. Cleaning up...")

	b.voice.Shutdown()
	if err := b.dg.Close(); err != nil {
		return fmt.Errorf("failed to close Discord session: %w", err)
	}
	return nil
}

// configureIntents asks for guild, voice state and message content events.
// Member lookups fall back to REST so the privileged members intent is not
// required.
func (b *Bot) configureIntents() {
	b.dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent
}

// onReady is called when the bot is ready. Startup work runs once; later
// re-identifies rely on the rejoin supervisor.
func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	if r.User != nil {
		b.greeter.SetBotUserID(r.User.ID)
		log.Printf("[INFO] ✅ Logged in as %s (%s) in %d guilds", r.User.Username, r.User.ID, len(r.Guilds))
	}
	b.readyOnce.Do(func() {
		go b.startup(b.context())
	})
}

func (b *Bot) startup(ctx context.Context) {
	if b.cfg.EncodeOnStartup {
		b.encodeOnStartup()
	}

	if id := b.cfg.VoiceChannelID; id != "" {
		b.joinConfigured(ctx, id, false)
	}
	if id := b.cfg.MoldaChannelID; id != "" {
		b.joinConfigured(ctx, id, true)
	}
}

func (b *Bot) encodeOnStartup() {
	err := b.jobs.StartSync(commands.EncodeJob, func(ctx context.Context) error {
		rep, err := b.transcoder.EncodeAll(ctx)
		if err != nil {
			return err
		}
		log.Printf("[DONE] Startup encode: %s", rep)
		return nil
	})
	switch {
	case err == nil:
	case errors.Is(err, audio.ErrFFmpegNotFound):
		log.Println("[WARN] ffmpeg not found, skipping startup encode. Playback will be unavailable")
	case errors.Is(err, jobmgr.ErrAlreadyRunning):
		log.Println("[INFO] Encode already running, skipping startup encode")
	default:
		log.Printf("[ERR] Startup encode failed: %v", err)
	}
}

// joinConfigured connects to a channel from the environment. The home
// channel is supervised even when this first attempt fails.
func (b *Bot) joinConfigured(ctx context.Context, channelID string, home bool) {
	guildID, name, err := b.platform.VoiceChannel(channelID)
	if err != nil {
		log.Printf("[ERR] [Voice] Configured channel %s unusable: %v", channelID, err)
		return
	}

	if home {
		_, err = b.voice.ConnectHome(ctx, guildID, channelID)
	} else {
		_, err = b.voice.Connect(ctx, guildID, channelID)
	}
	if err != nil {
		log.Printf("[ERR] [Voice] Could not join %s (%s): %v", name, channelID, err)
		var ce *voice.ConnectError
		if errors.As(err, &ce) {
			log.Printf("[INFO] [Voice] %s", ce.Guidance())
		}
		return
	}
	log.Printf("[DONE] [Voice] Joined %s (%s)", name, channelID)
}

func (b *Bot) onVoiceStateUpdate(s *discordgo.Session, v *discordgo.VoiceStateUpdate) {
	if v == nil || v.VoiceState == nil {
		return
	}
	change := discordtypes.FromUpdate(v)
	log.Printf("[DEBUG] [VoiceState] guild=%s %s", change.GuildID, change)

	if s.State != nil && s.State.User != nil && v.UserID == s.State.User.ID {
		b.voice.HandleSelfVoiceState(change)
		return
	}

	b.greeter.HandleVoiceStateUpdate(change)
	b.watcher.HandleVoiceStateUpdate(b.context(), change)
}

// onGuildDelete drops the session of a guild the bot was removed from. An
// outage (Unavailable) keeps it so the supervisor can recover.
func (b *Bot) onGuildDelete(s *discordgo.Session, g *discordgo.GuildDelete) {
	if g == nil || g.Guild == nil || g.Unavailable {
		return
	}
	log.Printf("[INFO] Removed from guild %s", g.ID)
	b.voice.Forget(g.ID)
}
