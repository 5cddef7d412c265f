// cmd/discord/main.go
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"unmute-bot/internal/config"
	"unmute-bot/internal/discord"
	"unmute-bot/internal/httpapi"
	"unmute-bot/internal/metrics"
	v "unmute-bot/internal/version"
	"unmute-bot/pkg/jobmgr"
)

func main() {
	log.Printf("[INFO] Starting %s...", v.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.New()

	m := metrics.New("unmutebot")
	jobs := jobmgr.NewManager(nil)

	bot, err := discord.NewBot(cfg, jobs, m)
	if err != nil {
		log.Fatal(err)
	}

	errCh := make(chan error, 2)
	botDone := make(chan struct{})
	go func() {
		defer close(botDone)
		if err := bot.Run(ctx); err != nil {
			errCh <- err
		}
	}()

	if cfg.HTTPAddr != "" {
		srv := httpapi.New(bot.Voice(), jobs, m)
		go func() {
			log.Printf("[INFO] Ops server listening on %s", cfg.HTTPAddr)
			if err := srv.ListenAndServe(ctx, cfg.HTTPAddr); err != nil {
				errCh <- err
			}
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		log.Printf("[INFO] Received signal %s, shutting down...\n", s)
	case err := <-errCh:
		log.Println("[ERR] Bot error:", err)
	}
	cancel()

	<-botDone
	jobs.Shutdown()
	log.Println("[INFO] Discord bot exited cleanly")
}
