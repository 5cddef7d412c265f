package discord

import (
	"context"
	"fmt"

	"unmute-bot/internal/commands"
	"unmute-bot/internal/discordtypes"
	"unmute-bot/internal/mutewatch"

	"github.com/bwmarrin/discordgo"
)

// Platform serves guild lookups and moderation calls from the session state,
// falling back to REST where the state may be incomplete.
type Platform struct {
	s *discordgo.Session
}

func NewPlatform(s *discordgo.Session) *Platform {
	return &Platform{s: s}
}

// RecentMemberUpdates fetches MEMBER_UPDATE audit entries, newest first.
func (p *Platform) RecentMemberUpdates(ctx context.Context, guildID string, limit int) ([]mutewatch.AuditEntry, error) {
	al, err := p.s.GuildAuditLog(guildID, "", "", int(discordgo.AuditLogActionMemberUpdate), limit, discordgo.WithContext(ctx))
	if err != nil {
		return nil, discordtypes.WrapREST(err)
	}
	entries := make([]mutewatch.AuditEntry, 0, len(al.AuditLogEntries))
	for _, e := range al.AuditLogEntries {
		if e == nil {
			continue
		}
		entries = append(entries, auditEntry(e))
	}
	return entries, nil
}

func auditEntry(e *discordgo.AuditLogEntry) mutewatch.AuditEntry {
	out := mutewatch.AuditEntry{ID: e.ID, TargetID: e.TargetID, ActorID: e.UserID}
	if ts, err := discordgo.SnowflakeTimestamp(e.ID); err == nil {
		out.CreatedAt = ts
	}
	for _, ch := range e.Changes {
		if ch == nil || ch.Key == nil || *ch.Key != discordgo.AuditLogChangeKeyMute {
			continue
		}
		out.MuteBefore = asBool(ch.OldValue)
		out.MuteAfter = asBool(ch.NewValue)
	}
	return out
}

func asBool(v interface{}) *bool {
	b, ok := v.(bool)
	if !ok {
		return nil
	}
	return &b
}

func (p *Platform) MemberRoles(ctx context.Context, guildID, userID string) ([]string, error) {
	if m, err := p.s.State.Member(guildID, userID); err == nil && m != nil {
		return m.Roles, nil
	}
	m, err := p.s.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		if discordtypes.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", mutewatch.ErrMemberNotFound, userID)
		}
		return nil, err
	}
	return m.Roles, nil
}

func (p *Platform) VoiceState(guildID, userID string) (*discordtypes.VoiceState, bool) {
	vs, err := p.s.State.VoiceState(guildID, userID)
	if err != nil || vs == nil {
		return nil, false
	}
	return discordtypes.FromVoiceState(vs), true
}

func (p *Platform) Unmute(ctx context.Context, guildID, userID, reason string) error {
	err := p.s.GuildMemberMute(guildID, userID, false,
		discordgo.WithAuditLogReason(reason),
		discordgo.WithContext(ctx),
	)
	return discordtypes.WrapREST(err)
}

// VoiceChannel resolves a channel id for the operator commands.
func (p *Platform) VoiceChannel(id string) (guildID, name string, err error) {
	ch, err := p.s.State.Channel(id)
	if err != nil {
		ch, err = p.s.Channel(id)
		if err != nil {
			return "", "", fmt.Errorf("%w: %s", commands.ErrChannelNotFound, id)
		}
	}
	if !isVoiceChannel(ch) {
		return ch.GuildID, ch.Name, fmt.Errorf("%w: %s", commands.ErrNotVoiceChannel, ch.Name)
	}
	return ch.GuildID, ch.Name, nil
}

func isVoiceChannel(ch *discordgo.Channel) bool {
	return ch != nil && (ch.Type == discordgo.ChannelTypeGuildVoice || ch.Type == discordgo.ChannelTypeGuildStageVoice)
}
