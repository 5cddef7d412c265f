package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"unmute-bot/pkg/cmd"
)

// VoiceStatus reports the guild's voice session and background jobs.
type VoiceStatus struct{ Deps Deps }

func (c *VoiceStatus) Name() string        { return "voice-status" }
func (c *VoiceStatus) Description() string { return "Show the voice session, auto-rejoin state and running jobs" }

func (c *VoiceStatus) Run(ctx context.Context, inv *cmd.Invocation) error {
	mc, err := messageContext(inv)
	if err != nil {
		return err
	}

	var b strings.Builder
	sess, ok := c.Deps.Voice.Session(mc.GuildID)
	if !ok || sess.ChannelID == "" {
		b.WriteString("Not connected.\n")
	} else {
		fmt.Fprintf(&b, "Connected to %s (ready: %v) for %s.\n",
			c.Deps.channelName(sess.ChannelID), sess.Ready, time.Since(sess.ConnectedAt).Round(time.Second))
		if sess.Playing != "" {
			fmt.Fprintf(&b, "Playing: %s\n", sess.Playing)
		}
	}

	if sess.Home != "" {
		fmt.Fprintf(&b, "Auto-rejoin: %s (loop running: %v)\n", c.Deps.channelName(sess.Home), c.Deps.Voice.Supervising(mc.GuildID))
	} else {
		b.WriteString("Auto-rejoin: disabled\n")
	}

	if c.Deps.Jobs != nil {
		b.WriteString(c.Deps.Jobs.Status())
	}

	mc.Replyf("%s", strings.TrimSpace(b.String()))
	return nil
}
