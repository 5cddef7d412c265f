// cmd/cli/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"unmute-bot/internal/audio"
	"unmute-bot/internal/config"
	v "unmute-bot/internal/version"
	"unmute-bot/pkg/cmd"
)

// options is what every offline command receives in Invocation.Data.
type options struct {
	dir         string
	ffmpeg      string
	defaultFile string
	workers     int
}

func (o *options) transcoder() *audio.Transcoder {
	return audio.NewTranscoder(audio.FindFFmpeg(o.ffmpeg), o.dir, o.workers)
}

func main() {
	log.SetFlags(0)

	cfg, err := config.LoadAudio()
	if err != nil {
		log.Fatalf("[ERR] %v", err)
	}

	opts := &options{defaultFile: cfg.DefaultJoinAudio}
	flag.StringVar(&opts.dir, "dir", cfg.AudioDir, "audio directory")
	flag.StringVar(&opts.ffmpeg, "ffmpeg", cfg.FFmpegPath, "ffmpeg executable")
	flag.IntVar(&opts.workers, "workers", cfg.EncodeWorkers, "parallel encodes")

	reg := cmd.NewRegistry()
	reg.Register(&encodeCommand{})
	reg.Register(&cleanupCommand{})
	reg.Register(&catalogueCommand{})
	reg.Register(&diagnoseCommand{})

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s\n\nUsage: %s [flags] <command> [args]\n\nCommands:\n%s\nFlags:\n", v.String(), os.Args[0], reg.Usage("  "))
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	c := reg.Get(flag.Arg(0))
	if c == nil {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", flag.Arg(0))
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := c.Run(ctx, &cmd.Invocation{Args: flag.Args()[1:], Data: opts}); err != nil {
		stop()
		log.Fatalf("[ERR] %s: %v", c.Name(), err)
	}
}

func optionsOf(inv *cmd.Invocation) *options {
	if o, ok := inv.Data.(*options); ok && o != nil {
		return o
	}
	return &options{dir: ".", workers: 1}
}

type encodeCommand struct{}

func (c *encodeCommand) Name() string { return "encode" }
func (c *encodeCommand) Description() string {
	return "Encode every MP3 in the audio directory to Opus"
}

func (c *encodeCommand) Run(ctx context.Context, inv *cmd.Invocation) error {
	o := optionsOf(inv)
	rep, err := o.transcoder().EncodeAll(ctx)
	if err != nil {
		if errors.Is(err, audio.ErrFFmpegNotFound) {
			return fmt.Errorf("%w: install ffmpeg, set FFMPEG_PATH or place it in %s", err, audio.LocalFFmpegDir)
		}
		return err
	}
	for _, f := range rep.Failed {
		log.Printf("[WARN] Failed: %s", f)
	}
	log.Printf("[DONE] %s", rep)
	return nil
}

type cleanupCommand struct{}

func (c *cleanupCommand) Name() string { return "cleanup" }
func (c *cleanupCommand) Description() string {
	return "Delete every encoded .opus file (requires -yes)"
}

func (c *cleanupCommand) Run(ctx context.Context, inv *cmd.Invocation) error {
	fs := flag.NewFlagSet(c.Name(), flag.ContinueOnError)
	yes := fs.Bool("yes", false, "confirm deletion")
	if err := fs.Parse(inv.Args); err != nil {
		return err
	}

	t := optionsOf(inv).transcoder()
	if !*yes {
		files, err := t.EncodedFiles()
		if err != nil {
			return err
		}
		log.Printf("[INFO] %d encoded files would be removed. Re-run with -yes to delete them.", len(files))
		return nil
	}

	removed, err := t.Cleanup()
	for _, f := range removed {
		log.Printf("[INFO] Removed %s", f)
	}
	if err != nil {
		return err
	}
	log.Printf("[DONE] Removed %d files", len(removed))
	return nil
}

type catalogueCommand struct{}

func (c *catalogueCommand) Name() string { return "catalogue" }
func (c *catalogueCommand) Description() string {
	return "List greeting files and the user ids they are bound to"
}

func (c *catalogueCommand) Run(ctx context.Context, inv *cmd.Invocation) error {
	o := optionsOf(inv)
	cat, err := audio.NewCatalogue(o.dir, o.defaultFile, os.LookupEnv)
	if err != nil {
		return err
	}

	if p, err := cat.Default(); err != nil {
		fmt.Printf("default: %s (missing)\n", o.defaultFile)
	} else {
		fmt.Printf("default: %s\n", p)
	}

	greetings := cat.Greetings()
	if len(greetings) == 0 {
		fmt.Println("no greeting files")
		return nil
	}
	for _, g := range greetings {
		user := g.UserID
		if user == "" {
			user = "(unbound)"
		}
		fmt.Printf("%-20s %-30s %s\n", g.Name, g.File, user)
	}
	return nil
}

type diagnoseCommand struct{}

func (c *diagnoseCommand) Name() string { return "diagnose" }
func (c *diagnoseCommand) Description() string {
	return "Report ffmpeg availability and the state of the audio directory"
}

func (c *diagnoseCommand) Run(ctx context.Context, inv *cmd.Invocation) error {
	o := optionsOf(inv)

	fmt.Println(v.String())
	if ff := audio.FindFFmpeg(o.ffmpeg); ff != "" {
		fmt.Printf("ffmpeg:    %s\n", ff)
	} else {
		fmt.Println("ffmpeg:    not found (playback and encoding unavailable)")
	}

	info, err := os.Stat(o.dir)
	switch {
	case err != nil:
		fmt.Printf("audio dir: %s (%v)\n", o.dir, err)
		return nil
	case !info.IsDir():
		fmt.Printf("audio dir: %s (not a directory)\n", o.dir)
		return nil
	}
	fmt.Printf("audio dir: %s\n", o.dir)

	t := o.transcoder()
	sources, err := t.Sources()
	if err != nil {
		return err
	}
	encoded, err := t.EncodedFiles()
	if err != nil {
		return err
	}
	fmt.Printf("sources:   %d mp3\n", len(sources))
	fmt.Printf("encoded:   %d opus\n", len(encoded))
	return nil
}
