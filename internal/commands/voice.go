// /internal/commands/voice.go
package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"unmute-bot/internal/voice"
	"unmute-bot/pkg/cmd"
)

// JoinChannel joins a voice channel by id.
type JoinChannel struct{ Deps Deps }

func (c *JoinChannel) Name() string        { return "join-channel" }
func (c *JoinChannel) Description() string { return "Join a voice channel by ID. Usage: join-channel <channel_id>" }

func (c *JoinChannel) Run(ctx context.Context, inv *cmd.Invocation) error {
	mc, err := messageContext(inv)
	if err != nil {
		return err
	}
	channelID, name, ok := c.Deps.targetChannel(mc, inv.Args, "")
	if !ok {
		return nil
	}

	if _, err := c.Deps.Voice.Connect(ctx, mc.GuildID, channelID); err != nil {
		replyConnectError(mc, name, err)
		return nil
	}
	mc.Replyf("✅ Joined %s!", name)
	return nil
}

// LeaveChannel leaves the current voice channel.
type LeaveChannel struct{ Deps Deps }

func (c *LeaveChannel) Name() string        { return "leave-channel" }
func (c *LeaveChannel) Description() string { return "Leave the current voice channel" }

func (c *LeaveChannel) Run(ctx context.Context, inv *cmd.Invocation) error {
	mc, err := messageContext(inv)
	if err != nil {
		return err
	}
	if err := c.Deps.Voice.Disconnect(mc.GuildID); err != nil {
		if errors.Is(err, voice.ErrNotConnected) {
			mc.Replyf("I'm not in a voice channel!")
			return nil
		}
		mc.Replyf("Failed to leave channel: %v", err)
		return err
	}
	mc.Replyf("Left the voice channel!")
	return nil
}

// JoinHome joins the home channel and keeps the bot there.
type JoinHome struct{ Deps Deps }

func (c *JoinHome) Name() string { return "join-channel-molda" }
func (c *JoinHome) Description() string {
	return "Join the molda voice channel with auto-rejoin enabled. Usage: join-channel-molda [channel_id]"
}

func (c *JoinHome) Run(ctx context.Context, inv *cmd.Invocation) error {
	mc, err := messageContext(inv)
	if err != nil {
		return err
	}
	channelID, name, ok := c.Deps.targetChannel(mc, inv.Args, c.Deps.HomeChannelID)
	if !ok {
		return nil
	}

	if _, err := c.Deps.Voice.ConnectHome(ctx, mc.GuildID, channelID); err != nil {
		var cerr *voice.ConnectError
		if errors.As(err, &cerr) && cerr.Kind != voice.KindPermissionDenied {
			mc.Replyf("❌ Failed to join %s after retries. Auto-rejoin stays enabled and will keep trying.\n%s", name, cerr.Guidance())
			return nil
		}
		replyConnectError(mc, name, err)
		return nil
	}
	mc.Replyf("✅ Successfully joined %s with auto-rejoin enabled!", name)
	return nil
}

// LeaveHome leaves the voice channel and disables auto-rejoin.
type LeaveHome struct{ Deps Deps }

func (c *LeaveHome) Name() string        { return "leave-channel-molda" }
func (c *LeaveHome) Description() string { return "Leave the molda voice channel and disable auto-rejoin" }

func (c *LeaveHome) Run(ctx context.Context, inv *cmd.Invocation) error {
	mc, err := messageContext(inv)
	if err != nil {
		return err
	}
	if err := c.Deps.Voice.Disconnect(mc.GuildID); err != nil {
		if errors.Is(err, voice.ErrNotConnected) {
			mc.Replyf("I'm not in a voice channel! Auto-rejoin is disabled.")
			return nil
		}
		mc.Replyf("Failed to leave channel: %v", err)
		return err
	}
	mc.Replyf("Left the voice channel and disabled auto-rejoin!")
	return nil
}

// resolveChannel picks the channel argument, or fallback, and checks that
// it is a voice channel of guildID.
func (d Deps) resolveChannel(guildID string, args []string, fallback string) (id, name string, err error) {
	id = fallback
	if len(args) > 0 {
		id = strings.TrimSpace(args[0])
	}
	if id == "" {
		return "", "", ErrMissingArgument
	}
	if d.Channels == nil {
		return id, id, nil
	}

	owner, name, err := d.Channels.VoiceChannel(id)
	if err != nil {
		return id, name, err
	}
	if owner != guildID {
		return id, name, fmt.Errorf("%w: %s", ErrForeignChannel, id)
	}
	return id, name, nil
}

// targetChannel resolves the channel argument and replies on failure.
func (d Deps) targetChannel(mc *Context, args []string, fallback string) (id, name string, ok bool) {
	id, name, err := d.resolveChannel(mc.GuildID, args, fallback)
	switch {
	case err == nil:
		return id, name, true
	case errors.Is(err, ErrMissingArgument):
		mc.Replyf("Please provide a channel ID.")
	case errors.Is(err, ErrNotVoiceChannel):
		mc.Replyf("Channel %s is not a voice channel!", id)
	case errors.Is(err, ErrForeignChannel):
		mc.Replyf("Channel %s is not in this server!", id)
	default:
		mc.Replyf("Channel with ID %s not found!", id)
	}
	return "", "", false
}

func replyConnectError(mc *Context, name string, err error) {
	var cerr *voice.ConnectError
	if !errors.As(err, &cerr) {
		mc.Replyf("❌ Failed to join channel: %v", err)
		return
	}
	switch cerr.Kind {
	case voice.KindPermissionDenied:
		mc.Replyf("❌ Bot lacks CONNECT permission for %s!", name)
	case voice.KindHandshake:
		mc.Replyf("❌ **Channel Configuration Issue**: the voice server did not complete the encryption handshake for %s.\n\n%s", name, cerr.Guidance())
	case voice.KindTimeout:
		mc.Replyf("❌ Connection timed out after %d attempts. Server may be overloaded or unreachable.", cerr.Attempts)
	default:
		mc.Replyf("❌ Connection error: %v", cerr.Err)
	}
}
