package discord

import (
	"context"
	"fmt"
	"log"
	"strings"

	"unmute-bot/internal/discordtypes"
	"unmute-bot/internal/voice"

	"github.com/bwmarrin/discordgo"
)

// Gateway adapts a discordgo session to the voice manager.
type Gateway struct {
	s *discordgo.Session
}

func NewGateway(s *discordgo.Session) *Gateway {
	return &Gateway{s: s}
}

// CanConnect checks the bot's effective permissions on the channel. A failed
// lookup is not treated as a denial; the join itself will report it.
func (g *Gateway) CanConnect(guildID, channelID string) error {
	if g.s.State == nil || g.s.State.User == nil {
		return nil
	}
	perms, err := g.s.UserChannelPermissions(g.s.State.User.ID, channelID)
	if err != nil {
		log.Printf("[WARN] [Voice] Permission lookup for %s failed: %v", channelID, err)
		return nil
	}
	if !canJoin(perms) {
		return fmt.Errorf("%w: missing Connect on channel %s", voice.ErrPermissionDenied, channelID)
	}
	return nil
}

func canJoin(perms int64) bool {
	return perms&discordgo.PermissionAdministrator != 0 || perms&discordgo.PermissionVoiceConnect != 0
}

// Join opens a deafened voice connection. discordgo has no context support
// for the handshake, so ctx only guards the call from starting late.
func (g *Gateway) Join(ctx context.Context, guildID, channelID string) (voice.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vc, err := g.s.ChannelVoiceJoin(guildID, channelID, false, true)
	if err != nil {
		return nil, wrapJoinError(err)
	}
	return conn{vc: vc}, nil
}

// wrapJoinError tags errors raised during the voice websocket or UDP
// negotiation so they are classified as handshake failures.
func wrapJoinError(err error) error {
	if discordtypes.IsForbidden(err) {
		return fmt.Errorf("%w: %w", voice.ErrPermissionDenied, err)
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"udp", "encryption", "voice mode", "index out of range", "4016", "4006"} {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %w", voice.ErrHandshake, err)
		}
	}
	return err
}

// Live returns whatever connection the library currently holds for the guild.
func (g *Gateway) Live(guildID string) voice.Conn {
	g.s.RLock()
	vc, ok := g.s.VoiceConnections[guildID]
	g.s.RUnlock()
	if !ok || vc == nil {
		return nil
	}
	return conn{vc: vc}
}

// conn is a value wrapper so two wrappers of the same library connection
// compare equal.
type conn struct {
	vc *discordgo.VoiceConnection
}

func (c conn) ChannelID() string {
	c.vc.RLock()
	defer c.vc.RUnlock()
	return c.vc.ChannelID
}

func (c conn) Ready() bool {
	c.vc.RLock()
	defer c.vc.RUnlock()
	return c.vc.Ready
}

func (c conn) Move(channelID string) error {
	return c.vc.ChangeChannel(channelID, false, true)
}

func (c conn) Disconnect() error {
	return c.vc.Disconnect()
}

func (c conn) Speaking(on bool) error {
	return c.vc.Speaking(on)
}

func (c conn) OpusSend() chan<- []byte {
	return c.vc.OpusSend
}
