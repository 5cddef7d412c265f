package voice

import (
	"context"
	"io"
)

// Conn is a live voice connection for one guild.
type Conn interface {
	ChannelID() string
	// Ready reports whether the connection is established and usable.
	Ready() bool
	Move(channelID string) error
	Disconnect() error
	Speaking(on bool) error
	OpusSend() chan<- []byte
}

// Gateway opens voice connections on the platform.
type Gateway interface {
	// CanConnect returns an error wrapping ErrPermissionDenied when the bot
	// may not join channelID.
	CanConnect(guildID, channelID string) error
	Join(ctx context.Context, guildID, channelID string) (Conn, error)
	// Live returns the connection the platform currently reports for the
	// guild, or nil.
	Live(guildID string) Conn
}

// Streamer decodes an audio file and frames it for a connection.
type Streamer interface {
	// Executable returns the decoder binary, or "" when none is available.
	Executable() string
	Open(path string) (io.ReadCloser, func(), error)
	Stream(pcm io.Reader, stop <-chan struct{}, send chan<- []byte) error
}
