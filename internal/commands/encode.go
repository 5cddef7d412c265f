package commands

import (
	"context"
	"errors"

	"unmute-bot/internal/audio"
	"unmute-bot/pkg/cmd"
	"unmute-bot/pkg/jobmgr"
)

// EncodeJob is shared with the startup encode so the two never overlap.
const EncodeJob = "encode-audio"

// EncodeAudio converts catalogue sources to Opus.
type EncodeAudio struct{ Deps Deps }

func (c *EncodeAudio) Name() string        { return "encode-audio" }
func (c *EncodeAudio) Description() string { return "Encode every MP3 in the audio directory to Opus" }

func (c *EncodeAudio) Run(ctx context.Context, inv *cmd.Invocation) error {
	mc, err := messageContext(inv)
	if err != nil {
		return err
	}

	mc.Replyf("Encoding audio files to Opus, this may take a while...")

	var rep audio.Report
	err = c.Deps.Jobs.StartSync(EncodeJob, func(jctx context.Context) error {
		// Stop with whichever of the command or the process ends first.
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			select {
			case <-jctx.Done():
				cancel()
			case <-ctx.Done():
			}
		}()

		var err error
		rep, err = c.Deps.Encoder.EncodeAll(ctx)
		return err
	})

	switch {
	case errors.Is(err, jobmgr.ErrAlreadyRunning):
		mc.Replyf("An encode is already running.")
		return nil
	case errors.Is(err, audio.ErrFFmpegNotFound):
		mc.Replyf("ffmpeg not available on the server. Set FFMPEG_PATH or install ffmpeg.")
		return nil
	case err != nil:
		mc.Replyf("Encoding failed: %v", err)
		return err
	}

	mc.Replyf("✅ Encoding finished: %d encoded, %d already encoded, %d failed.", len(rep.Encoded), len(rep.Skipped), len(rep.Failed))
	return nil
}
