// Package greeting plays a join clip when a user enters the channel the bot
// is sitting in.
package greeting

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"unmute-bot/internal/discordtypes"
	"unmute-bot/internal/metrics"
	"unmute-bot/pkg/jobmgr"
)

const DefaultSettleDelay = 3 * time.Second

type Player interface {
	ChannelOf(guildID string) string
	Play(ctx context.Context, guildID, path string) error
}

type Resolver interface {
	// GreetingFor returns the user's personal clip or the default one.
	GreetingFor(userID string) (path string, bound bool, err error)
}

type VoiceStates interface {
	VoiceState(guildID, userID string) (*discordtypes.VoiceState, bool)
}

type Options struct {
	SettleDelay time.Duration
	Metrics     *metrics.Metrics
}

type Trigger struct {
	player   Player
	resolver Resolver
	states   VoiceStates
	jobs     *jobmgr.Manager
	opts     Options
	botID    atomic.Value // string
}

func New(player Player, resolver Resolver, states VoiceStates, jobs *jobmgr.Manager, opts Options) *Trigger {
	if opts.SettleDelay < 0 {
		opts.SettleDelay = 0
	}
	if jobs == nil {
		jobs = jobmgr.NewManager(nil)
	}
	t := &Trigger{player: player, resolver: resolver, states: states, jobs: jobs, opts: opts}
	t.botID.Store("")
	return t
}

// SetBotUserID records the bot's own id once the session is ready.
func (t *Trigger) SetBotUserID(id string) { t.botID.Store(id) }

func (t *Trigger) botUserID() string { return t.botID.Load().(string) }

func greetJob(guildID, userID string) string {
	return fmt.Sprintf("greet:%s:%s", guildID, userID)
}

// HandleVoiceStateUpdate schedules a greeting when change is a user joining
// the bot's channel. It reports whether one was scheduled.
func (t *Trigger) HandleVoiceStateUpdate(change discordtypes.VoiceStateChange) bool {
	if !change.Joined() || change.UserID == t.botUserID() {
		return false
	}
	channel := change.AfterChannel()
	if t.player.ChannelOf(change.GuildID) != channel {
		return false
	}

	err := t.jobs.StartAsync(greetJob(change.GuildID, change.UserID), func(ctx context.Context) error {
		return t.greet(ctx, change.GuildID, change.UserID, channel)
	})
	if errors.Is(err, jobmgr.ErrAlreadyRunning) {
		t.opts.Metrics.Greeting("duplicate")
		return false
	}
	if err != nil {
		log.Printf("[WARN] [Greeting] %v", err)
		return false
	}

	log.Printf("[Greeting] User %s joined %s, greeting in %v", change.UserID, channel, t.opts.SettleDelay)
	return true
}

func (t *Trigger) greet(ctx context.Context, guildID, userID, channel string) error {
	select {
	case <-ctx.Done():
		return nil
	case <-time.After(t.opts.SettleDelay):
	}

	vs, ok := t.states.VoiceState(guildID, userID)
	if !ok || vs == nil || vs.ChannelID != channel {
		log.Printf("[Greeting] User %s left %s before the greeting, skip", userID, channel)
		t.opts.Metrics.Greeting("left")
		return nil
	}
	if t.player.ChannelOf(guildID) != channel {
		log.Printf("[Greeting] Bot is no longer in %s, skip", channel)
		t.opts.Metrics.Greeting("left")
		return nil
	}

	path, bound, err := t.resolver.GreetingFor(userID)
	if err != nil {
		log.Printf("[ERR] [Greeting] No greeting asset for %s: %v", userID, err)
		t.opts.Metrics.Greeting("failed")
		return nil
	}

	if err := t.player.Play(ctx, guildID, path); err != nil {
		log.Printf("[ERR] [Greeting] Failed to play %s for %s: %v", path, userID, err)
		t.opts.Metrics.Greeting("failed")
		return nil
	}

	kind := "default"
	if bound {
		kind = "personal"
	}
	log.Printf("[Greeting] Playing %s greeting %s for %s", kind, path, userID)
	t.opts.Metrics.Greeting("played")
	return nil
}
