// /internal/voice/supervisor.go
package voice

import (
	"context"
	"errors"
	"log"
	"time"

	"unmute-bot/internal/discordtypes"
	"unmute-bot/pkg/jobmgr"
)

const (
	triggerInterval = "interval"
	triggerEvent    = "event"
)

func rejoinJob(guildID string) string    { return "rejoin:" + guildID }
func reconcileJob(guildID string) string { return "reconcile:" + guildID }

// startRejoin (re)starts the guild's supervision loop.
func (m *Manager) startRejoin(guildID string) {
	err := m.jobs.Restart(rejoinJob(guildID), func(ctx context.Context) error {
		return m.superviseHome(ctx, guildID)
	})
	if err != nil {
		log.Printf("[ERR] [Rejoin] Guild %s: failed to start supervision: %v", guildID, err)
	}
}

func (m *Manager) stopRejoin(guildID string) {
	if err := m.jobs.Stop(rejoinJob(guildID)); err == nil {
		log.Printf("[Rejoin] Guild %s: supervision stopped", guildID)
	}
}

// Supervising reports whether the guild has a live rejoin loop.
func (m *Manager) Supervising(guildID string) bool {
	return m.jobs.Running(rejoinJob(guildID))
}

func (m *Manager) superviseHome(ctx context.Context, guildID string) error {
	log.Printf("[Rejoin] Guild %s: supervising home channel every %v", guildID, m.opts.RejoinInterval)

	t := time.NewTimer(m.opts.RejoinInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}

		if done := m.Reconcile(ctx, guildID, triggerInterval); done {
			log.Printf("[Rejoin] Guild %s: home channel cleared, supervision ends", guildID)
			return nil
		}
		t.Reset(m.opts.RejoinInterval)
	}
}

// Reconcile brings the guild back to its home channel: a missing or dead
// connection is re-established, a connection elsewhere is moved. It reports
// true when no home channel is registered.
func (m *Manager) Reconcile(ctx context.Context, guildID, trigger string) (done bool) {
	s := m.lookup(guildID)
	if s == nil {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	home := s.home
	if home == "" {
		return true
	}
	if ctx.Err() != nil {
		return false
	}

	if s.conn == nil || !s.conn.Ready() {
		log.Printf("[Rejoin] Guild %s: not connected, rejoining home channel %s (%s)", guildID, home, trigger)
		m.metrics.Correction("reconnect", trigger)
		if err := m.connectLocked(ctx, s, home, m.opts.ConnectDelays[:m.opts.RejoinAttempts]); err != nil {
			log.Printf("[ERR] [Rejoin] Guild %s: rejoin failed, next try in %v: %v", guildID, m.opts.RejoinInterval, err)
		}
		return false
	}

	if s.conn.ChannelID() != home {
		log.Printf("[Rejoin] Guild %s: on %s instead of home %s, moving back (%s)", guildID, s.conn.ChannelID(), home, trigger)
		m.metrics.Correction("move", trigger)
		if err := m.moveLocked(s, home); err != nil {
			log.Printf("[ERR] [Rejoin] Guild %s: %v", guildID, err)
		}
	}
	return false
}

// HandleSelfVoiceState reacts to the bot's own voice-state updates. Leaving
// the home channel, by disconnect or by being moved, triggers an immediate
// correction in the background.
func (m *Manager) HandleSelfVoiceState(change discordtypes.VoiceStateChange) {
	home := m.Home(change.GuildID)
	if home == "" {
		return
	}
	if change.BeforeChannel() != home || change.AfterChannel() == home {
		return
	}

	log.Printf("[Rejoin] Guild %s: bot left home channel (%q -> %q)", change.GuildID, change.BeforeChannel(), change.AfterChannel())

	err := m.jobs.StartAsync(reconcileJob(change.GuildID), func(ctx context.Context) error {
		m.Reconcile(ctx, change.GuildID, triggerEvent)
		return nil
	})
	if err != nil && !errors.Is(err, jobmgr.ErrAlreadyRunning) {
		log.Printf("[WARN] [Rejoin] Guild %s: %v", change.GuildID, err)
	}
}
