// Package mutewatch reverts server mutes applied by members of a monitored
// role. A detection goes Idle -> MuteDetected -> AuditPending and either
// schedules a single delayed unmute for the user or returns to Idle.
package mutewatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"time"

	"unmute-bot/internal/discordtypes"
	"unmute-bot/internal/metrics"
	"unmute-bot/pkg/jobmgr"
	"unmute-bot/pkg/retrylimit"
)

const (
	DefaultAuditDelay      = time.Second
	DefaultUnmuteDelay     = 5 * time.Second
	DefaultAuditWindow     = 30 * time.Second
	DefaultAuditLimit      = 50
	DefaultAuditAttempts   = 3
	DefaultAuditRetryDelay = 500 * time.Millisecond
)

// UnmuteReason is the audit log reason attached to an unmute issued after d.
func UnmuteReason(d time.Duration) string {
	return fmt.Sprintf("Auto-unmute after %v (monitored role action)", d)
}

var ErrMemberNotFound = errors.New("member not found")

// AuditEntry is one member-update record from the guild audit log.
// MuteBefore and MuteAfter are nil when the entry carries no mute change.
type AuditEntry struct {
	ID         string
	TargetID   string
	ActorID    string
	CreatedAt  time.Time
	MuteBefore *bool
	MuteAfter  *bool
}

// MuteApplied reports a mute change from false or absent to true.
func (e AuditEntry) MuteApplied() bool {
	return e.MuteAfter != nil && *e.MuteAfter && (e.MuteBefore == nil || !*e.MuteBefore)
}

// Platform is what the watcher needs from the chat platform.
type Platform interface {
	// RecentMemberUpdates returns member-update audit entries, newest first.
	RecentMemberUpdates(ctx context.Context, guildID string, limit int) ([]AuditEntry, error)
	// MemberRoles returns ErrMemberNotFound when userID is not a guild member.
	MemberRoles(ctx context.Context, guildID, userID string) ([]string, error)
	VoiceState(guildID, userID string) (*discordtypes.VoiceState, bool)
	Unmute(ctx context.Context, guildID, userID, reason string) error
}

// Outcome is the stage a detection ended in.
type Outcome string

const (
	OutcomeIgnored        Outcome = "ignored"
	OutcomeAuditFailed    Outcome = "audit_failed"
	OutcomeNoActor        Outcome = "no_actor"
	OutcomeActorNotMember Outcome = "actor_not_member"
	OutcomeNotQualified   Outcome = "actor_not_qualified"
	OutcomeAlreadyPending Outcome = "already_pending"
	OutcomeScheduled      Outcome = "scheduled"
)

type Options struct {
	MonitoredRoleID string
	AuditDelay      time.Duration
	UnmuteDelay     time.Duration
	AuditWindow     time.Duration
	AuditLimit      int
	// AuditAttempts bounds the audit log fetch. Rate limits and server
	// errors are retried with backoff; 403 is not.
	AuditAttempts   int
	AuditRetryDelay time.Duration
	Metrics         *metrics.Metrics
	Now             func() time.Time
}

type Watcher struct {
	platform Platform
	jobs     *jobmgr.Manager
	limiter  *retrylimit.AdaptiveLimiter
	opts     Options
}

func New(p Platform, jobs *jobmgr.Manager, opts Options) *Watcher {
	if opts.AuditDelay <= 0 {
		opts.AuditDelay = DefaultAuditDelay
	}
	if opts.UnmuteDelay <= 0 {
		opts.UnmuteDelay = DefaultUnmuteDelay
	}
	if opts.AuditWindow <= 0 {
		opts.AuditWindow = DefaultAuditWindow
	}
	if opts.AuditLimit <= 0 {
		opts.AuditLimit = DefaultAuditLimit
	}
	if opts.AuditAttempts <= 0 {
		opts.AuditAttempts = DefaultAuditAttempts
	}
	if opts.AuditRetryDelay <= 0 {
		opts.AuditRetryDelay = DefaultAuditRetryDelay
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if jobs == nil {
		jobs = jobmgr.NewManager(nil)
	}
	return &Watcher{
		platform: p,
		jobs:     jobs,
		limiter:  retrylimit.NewAdaptiveLimiter(2, 1, 5, 0.5, 0.5),
		opts:     opts,
	}
}

func pendingJob(guildID, userID string) string {
	return fmt.Sprintf("unmute:%s:%s", guildID, userID)
}

// Pending reports whether an unmute is scheduled for the user.
func (w *Watcher) Pending(guildID, userID string) bool {
	return w.jobs.Running(pendingJob(guildID, userID))
}

// HandleVoiceStateUpdate runs one detection. It blocks for the audit delay
// and the audit lookup; the unmute itself runs in the background.
func (w *Watcher) HandleVoiceStateUpdate(ctx context.Context, change discordtypes.VoiceStateChange) Outcome {
	if !change.ServerMuted() || change.AfterChannel() == "" {
		return OutcomeIgnored
	}

	outcome := w.detect(ctx, change)
	w.opts.Metrics.MuteEvent(string(outcome))
	return outcome
}

func (w *Watcher) detect(ctx context.Context, change discordtypes.VoiceStateChange) Outcome {
	g, u := change.GuildID, change.UserID
	log.Printf("[MuteWatch] Server mute detected for user %s in guild %s, checking audit log", u, g)

	// The audit entry usually shows up with some lag.
	select {
	case <-ctx.Done():
		return OutcomeIgnored
	case <-time.After(w.opts.AuditDelay):
	}

	actor, err := w.findActor(ctx, g, u)
	if err != nil {
		log.Printf("[WARN] [MuteWatch] Audit log lookup failed for guild %s: %v", g, err)
		return OutcomeAuditFailed
	}
	if actor == "" {
		log.Printf("[MuteWatch] No actor found for mute of %s (missing View Audit Log or entry not yet visible)", u)
		return OutcomeNoActor
	}

	roles, err := w.platform.MemberRoles(ctx, g, actor)
	if err != nil {
		if errors.Is(err, ErrMemberNotFound) {
			log.Printf("[MuteWatch] Actor %s is not a guild member, skip", actor)
			return OutcomeActorNotMember
		}
		log.Printf("[WARN] [MuteWatch] Failed to fetch actor %s: %v", actor, err)
		return OutcomeActorNotMember
	}
	if !slices.Contains(roles, w.opts.MonitoredRoleID) {
		log.Printf("[MuteWatch] Actor %s does not hold role %s, skip", actor, w.opts.MonitoredRoleID)
		return OutcomeNotQualified
	}

	name := pendingJob(g, u)
	err = w.jobs.StartAsync(name, func(ctx context.Context) error {
		return w.unmuteLater(ctx, g, u)
	})
	if errors.Is(err, jobmgr.ErrAlreadyRunning) {
		log.Printf("[MuteWatch] Unmute already scheduled for %s, skip", u)
		return OutcomeAlreadyPending
	}
	if err != nil {
		log.Printf("[ERR] [MuteWatch] Failed to schedule unmute for %s: %v", u, err)
		return OutcomeIgnored
	}

	id := ""
	if job, ok := w.jobs.Get(name); ok {
		id = job.ID
	}
	log.Printf("[MuteWatch] Actor %s holds monitored role, unmuting %s in %v (job %s)", actor, u, w.opts.UnmuteDelay, id)
	return OutcomeScheduled
}

// findActor returns the user who applied the most recent qualifying mute
// on target, or "".
func (w *Watcher) findActor(ctx context.Context, guildID, targetID string) (string, error) {
	cfg := retrylimit.DefaultRetryConfig()
	cfg.MaxAttempts = w.opts.AuditAttempts
	cfg.InitialDelay = w.opts.AuditRetryDelay
	cfg.MaxDelay = 4 * w.opts.AuditRetryDelay
	cfg.RateLimitDelay = w.opts.AuditRetryDelay

	var entries []AuditEntry
	err := retrylimit.WithRetryConfig(ctx, func() error {
		var err error
		entries, err = w.platform.RecentMemberUpdates(ctx, guildID, w.opts.AuditLimit)
		if discordtypes.IsForbidden(err) {
			return &retrylimit.FatalError{Err: err}
		}
		return err
	}, w.limiter, cfg)
	if err != nil {
		return "", err
	}

	if e, ok := FindMuteActor(entries, targetID, w.opts.Now(), w.opts.AuditWindow); ok {
		return e.ActorID, nil
	}
	return "", nil
}

// FindMuteActor scans entries in order and returns the first one that
// muted targetID within window of now.
func FindMuteActor(entries []AuditEntry, targetID string, now time.Time, window time.Duration) (AuditEntry, bool) {
	for _, e := range entries {
		if e.TargetID != targetID {
			continue
		}
		if now.Sub(e.CreatedAt) > window {
			continue
		}
		if e.MuteApplied() {
			return e, true
		}
	}
	return AuditEntry{}, false
}

func (w *Watcher) unmuteLater(ctx context.Context, guildID, userID string) error {
	w.opts.Metrics.PendingUnmute(1)
	defer w.opts.Metrics.PendingUnmute(-1)

	select {
	case <-ctx.Done():
		w.opts.Metrics.Unmute("cancelled")
		return nil
	case <-time.After(w.opts.UnmuteDelay):
	}

	vs, ok := w.platform.VoiceState(guildID, userID)
	if !ok || vs == nil || vs.ChannelID == "" {
		log.Printf("[MuteWatch] User %s is no longer in voice, skip unmute", userID)
		w.opts.Metrics.Unmute("left")
		return nil
	}
	if !vs.Mute {
		log.Printf("[MuteWatch] User %s is already unmuted, skip", userID)
		w.opts.Metrics.Unmute("already_unmuted")
		return nil
	}

	err := w.platform.Unmute(ctx, guildID, userID, UnmuteReason(w.opts.UnmuteDelay))
	switch {
	case err == nil:
		log.Printf("[DONE] [MuteWatch] Unmuted %s in guild %s", userID, guildID)
		w.opts.Metrics.Unmute("ok")
	case discordtypes.IsForbidden(err):
		log.Printf("[ERR] [MuteWatch] Forbidden: bot lacks Mute Members or its role is below %s's", userID)
		w.opts.Metrics.Unmute("forbidden")
	default:
		log.Printf("[ERR] [MuteWatch] Unmute of %s failed: %v", userID, err)
		w.opts.Metrics.Unmute("error")
	}
	return nil
}
