package commands

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"unmute-bot/internal/audio"
	"unmute-bot/internal/voice"
	"unmute-bot/pkg/cmd"
)

// PlayJoin plays the default join clip or a named file from the catalogue.
type PlayJoin struct{ Deps Deps }

func (c *PlayJoin) Name() string { return "play-join" }
func (c *PlayJoin) Description() string {
	return "Play the join audio. Usage: play-join [filename]"
}

func (c *PlayJoin) Run(ctx context.Context, inv *cmd.Invocation) error {
	mc, err := messageContext(inv)
	if err != nil {
		return err
	}

	var path string
	if len(inv.Args) > 0 {
		path, err = c.Deps.Catalogue.Resolve(strings.Join(inv.Args, " "))
	} else {
		path, err = c.Deps.Catalogue.Default()
	}
	if err != nil {
		replyAssetError(mc, err)
		return nil
	}
	return play(ctx, c.Deps, mc, path)
}

// PlayGreeting plays one catalogued personal greeting. One instance is
// registered per greeting file.
type PlayGreeting struct {
	Deps     Deps
	Greeting audio.Greeting
}

func (c *PlayGreeting) Name() string { return "play-audio-greeting-" + c.Greeting.Name }
func (c *PlayGreeting) Description() string {
	return "Play the greeting " + c.Greeting.File
}

func (c *PlayGreeting) Run(ctx context.Context, inv *cmd.Invocation) error {
	mc, err := messageContext(inv)
	if err != nil {
		return err
	}
	path, err := c.Deps.Catalogue.Greeting(c.Greeting.Name)
	if err != nil {
		replyAssetError(mc, err)
		return nil
	}
	return play(ctx, c.Deps, mc, path)
}

func play(ctx context.Context, d Deps, mc *Context, path string) error {
	err := d.Voice.Play(ctx, mc.GuildID, path)
	switch {
	case err == nil:
		mc.Replyf("Playing %s", filepath.Base(path))
		return nil
	case errors.Is(err, voice.ErrNotConnected):
		mc.Replyf("I'm not in a voice channel!")
		return nil
	case errors.Is(err, voice.ErrTranscoderUnavailable):
		mc.Replyf("ffmpeg not available on the server. Set FFMPEG_PATH or install ffmpeg.")
		return nil
	case errors.Is(err, voice.ErrAssetNotFound):
		mc.Replyf("Audio file not found: %s", filepath.Base(path))
		return nil
	default:
		mc.Replyf("Failed to play audio: %v", err)
		return err
	}
}

func replyAssetError(mc *Context, err error) {
	if errors.Is(err, audio.ErrInvalidName) {
		mc.Replyf("Invalid file name.")
		return
	}
	mc.Replyf("Audio file not found: %v", err)
}
