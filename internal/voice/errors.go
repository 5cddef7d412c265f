// /internal/voice/errors.go
package voice

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/bwmarrin/discordgo"

	"unmute-bot/internal/discordtypes"
)

// ErrorKind classifies a failed connect attempt.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindTimeout
	KindHandshake
	KindPermissionDenied
	KindTransport
)

func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindHandshake:
		return "handshake"
	case KindPermissionDenied:
		return "permission"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

var (
	ErrNotConnected          = errors.New("not connected to a voice channel")
	ErrTranscoderUnavailable = errors.New("audio decoder (ffmpeg) unavailable")
	ErrAssetNotFound         = errors.New("audio asset not found")
	ErrPlaybackStartFailed   = errors.New("playback failed to start")

	// ErrPermissionDenied is returned by gateways when the bot may not join.
	ErrPermissionDenied = errors.New("missing permission to connect")
	// ErrHandshake marks a failed encrypted media negotiation.
	ErrHandshake = errors.New("voice handshake negotiation failed")
)

// ConnectError is the terminal result of Connect.
type ConnectError struct {
	Kind      ErrorKind
	GuildID   string
	ChannelID string
	Attempts  int
	Err       error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("voice connect to channel %s failed (%s) after %d attempt(s): %v",
		e.ChannelID, e.Kind, e.Attempts, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt could succeed.
func (e *ConnectError) Retryable() bool {
	return e.Kind != KindPermissionDenied
}

// Guidance is a short remediation hint for the operator.
func (e *ConnectError) Guidance() string {
	switch e.Kind {
	case KindHandshake:
		return "The voice server rejected the encryption handshake. " +
			"Try another voice channel, check the channel's region and bitrate settings, " +
			"or ask a server admin to verify the bot's voice permissions."
	case KindPermissionDenied:
		return "The bot lacks the Connect permission for this channel."
	case KindTimeout:
		return "The voice server did not answer in time. Try again in a moment."
	case KindTransport:
		return "The connection to Discord failed. Try again in a moment."
	default:
		return "Unexpected error while joining. Check the bot logs."
	}
}

// Classify maps an attempt error onto an ErrorKind.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	switch {
	case errors.Is(err, ErrPermissionDenied), discordtypes.IsForbidden(err):
		return KindPermissionDenied
	case errors.Is(err, ErrHandshake):
		return KindHandshake
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindTransport
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) {
		return KindTransport
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "encryption"),
		strings.Contains(msg, "unsupported voice mode"),
		strings.Contains(msg, "index out of range"),
		strings.Contains(msg, "4016"):
		return KindHandshake
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return KindTimeout
	case strings.Contains(msg, "websocket"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "eof"):
		return KindTransport
	}
	return KindUnknown
}
