// /discordtypes/discordtypes.go
package discordtypes

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"
)

// VoiceState is the subset of a member's voice state the bot reacts to.
type VoiceState struct {
	GuildID   string
	UserID    string
	ChannelID string
	Mute      bool
	SelfMute  bool
	Deaf      bool
	SelfDeaf  bool
}

// VoiceStateChange pairs the cached state before an update with the new one.
// Before is nil when the gateway had nothing cached (first join after start).
type VoiceStateChange struct {
	GuildID string
	UserID  string
	Before  *VoiceState
	After   *VoiceState
}

func (c VoiceStateChange) BeforeChannel() string {
	if c.Before == nil {
		return ""
	}
	return c.Before.ChannelID
}

func (c VoiceStateChange) AfterChannel() string {
	if c.After == nil {
		return ""
	}
	return c.After.ChannelID
}

// ServerMuted reports a server mute flipping false -> true. Self-mute changes
// never count.
func (c VoiceStateChange) ServerMuted() bool {
	before := c.Before != nil && c.Before.Mute
	after := c.After != nil && c.After.Mute
	return !before && after
}

// Joined reports a transition from no channel to some channel.
func (c VoiceStateChange) Joined() bool {
	return c.BeforeChannel() == "" && c.AfterChannel() != ""
}

func (c VoiceStateChange) String() string {
	b, a := c.Before, c.After
	if b == nil {
		b = &VoiceState{}
	}
	if a == nil {
		a = &VoiceState{}
	}
	return fmt.Sprintf("user=%s channel: %q -> %q | mute: %v -> %v | self_mute: %v -> %v | deaf: %v -> %v | self_deaf: %v -> %v",
		c.UserID, b.ChannelID, a.ChannelID, b.Mute, a.Mute, b.SelfMute, a.SelfMute, b.Deaf, a.Deaf, b.SelfDeaf, a.SelfDeaf)
}

// FromVoiceState converts a discordgo voice state; nil stays nil.
func FromVoiceState(vs *discordgo.VoiceState) *VoiceState {
	if vs == nil {
		return nil
	}
	return &VoiceState{
		GuildID:   vs.GuildID,
		UserID:    vs.UserID,
		ChannelID: vs.ChannelID,
		Mute:      vs.Mute,
		SelfMute:  vs.SelfMute,
		Deaf:      vs.Deaf,
		SelfDeaf:  vs.SelfDeaf,
	}
}

// FromUpdate converts a gateway VOICE_STATE_UPDATE event.
func FromUpdate(u *discordgo.VoiceStateUpdate) VoiceStateChange {
	return VoiceStateChange{
		GuildID: u.GuildID,
		UserID:  u.UserID,
		Before:  FromVoiceState(u.BeforeUpdate),
		After:   FromVoiceState(u.VoiceState),
	}
}

// StatusCode extracts the HTTP status of a discordgo REST error, or 0.
func StatusCode(err error) int {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		return restErr.Response.StatusCode
	}
	return 0
}

// IsForbidden reports a REST error caused by missing permissions or role hierarchy.
func IsForbidden(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	if restErr.Message != nil && restErr.Message.Code == discordgo.ErrCodeMissingPermissions {
		return true
	}
	return restErr.Response != nil && restErr.Response.StatusCode == http.StatusForbidden
}

// IsNotFound reports a REST error for an unknown resource (member, channel).
func IsNotFound(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	if restErr.Message != nil && restErr.Message.Code == discordgo.ErrCodeUnknownMember {
		return true
	}
	return restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound
}

// APIError carries a REST failure together with its HTTP status so retry
// helpers can tell rate limits and server errors apart.
type APIError struct {
	Err error
}

func (e *APIError) Error() string { return e.Err.Error() }
func (e *APIError) Unwrap() error { return e.Err }
func (e *APIError) StatusCode() int { return StatusCode(e.Err) }

// WrapREST wraps err in an APIError. nil stays nil.
func WrapREST(err error) error {
	if err == nil {
		return nil
	}
	return &APIError{Err: err}
}
