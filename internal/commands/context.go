// /internal/commands/context.go
package commands

import (
	"context"
	"errors"
	"fmt"

	"unmute-bot/internal/audio"
	"unmute-bot/internal/voice"
	"unmute-bot/pkg/cmd"
	"unmute-bot/pkg/jobmgr"
)

var (
	ErrNoContext       = errors.New("command invoked without message context")
	ErrChannelNotFound = errors.New("channel not found")
	ErrNotVoiceChannel = errors.New("channel is not a voice channel")
	ErrForeignChannel  = errors.New("channel belongs to another server")
	ErrMissingArgument = errors.New("missing argument")
)

// Context is the message a command was invoked from. Adapters put it in
// cmd.Invocation.Data.
type Context struct {
	GuildID    string
	ChannelID  string
	AuthorID   string
	AuthorName string
	IsAdmin    bool
	Reply      func(msg string) error
}

func (c *Context) Replyf(format string, args ...any) {
	if c.Reply == nil {
		return
	}
	_ = c.Reply(fmt.Sprintf(format, args...))
}

func messageContext(inv *cmd.Invocation) (*Context, error) {
	if inv == nil {
		return nil, ErrNoContext
	}
	c, ok := inv.Data.(*Context)
	if !ok || c == nil {
		return nil, ErrNoContext
	}
	return c, nil
}

// Voice is the part of the voice manager commands drive.
type Voice interface {
	Connect(ctx context.Context, guildID, channelID string) (voice.Session, error)
	ConnectHome(ctx context.Context, guildID, channelID string) (voice.Session, error)
	Disconnect(guildID string) error
	Play(ctx context.Context, guildID, path string) error
	Session(guildID string) (voice.Session, bool)
	Supervising(guildID string) bool
}

// Catalogue resolves audio assets by name.
type Catalogue interface {
	Resolve(name string) (string, error)
	Default() (string, error)
	Greeting(name string) (string, error)
	Greetings() []audio.Greeting
}

type Encoder interface {
	EncodeAll(ctx context.Context) (audio.Report, error)
}

// Channels describes voice channels for validation and replies.
type Channels interface {
	// VoiceChannel returns the guild and name of a voice channel. It fails with
	// ErrChannelNotFound or ErrNotVoiceChannel.
	VoiceChannel(channelID string) (guildID, name string, err error)
}

// Deps wires commands to the running bot.
type Deps struct {
	Voice     Voice
	Catalogue Catalogue
	Encoder   Encoder
	Channels  Channels
	Jobs      *jobmgr.Manager
	// HomeChannelID is used by join-channel-molda when no id is given.
	HomeChannelID string
}

func (d Deps) channelName(id string) string {
	if d.Channels == nil {
		return id
	}
	if _, name, err := d.Channels.VoiceChannel(id); err == nil && name != "" {
		return name
	}
	return id
}
