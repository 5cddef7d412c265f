package voice

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
)

type playback struct {
	path     string
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	// cleanup ends the decoder; a stream blocked on its pipe returns once it
	// runs.
	cleanup     func()
	cleanupOnce sync.Once
}

func (p *playback) active() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *playback) release() {
	p.cleanupOnce.Do(func() {
		if p.cleanup != nil {
			p.cleanup()
		}
	})
}

// halt stops the stream, ends the decoder and waits for the stream goroutine
// to exit.
func (p *playback) halt() {
	p.stopOnce.Do(func() { close(p.stop) })
	p.release()
	<-p.done
}

// Play streams the file at path into the guild's connection, replacing any
// stream already playing. It returns once playback has started.
func (m *Manager) Play(ctx context.Context, guildID, path string) error {
	s := m.lookup(guildID)
	if s == nil {
		return ErrNotConnected
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil || !s.conn.Ready() {
		return ErrNotConnected
	}
	if m.streamer == nil || m.streamer.Executable() == "" {
		m.metrics.Playback("unavailable")
		return ErrTranscoderUnavailable
	}
	if fi, err := os.Stat(path); err != nil || fi.IsDir() {
		m.metrics.Playback("not_found")
		return fmt.Errorf("%w: %s", ErrAssetNotFound, path)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.stopPlaybackLocked(s)

	pcm, cleanup, err := m.streamer.Open(path)
	if err != nil {
		m.metrics.Playback("failed")
		return fmt.Errorf("%w: %w", ErrPlaybackStartFailed, err)
	}

	pb := &playback{
		path:    path,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		cleanup: cleanup,
	}
	s.view.Lock()
	s.playback = pb
	s.view.Unlock()

	conn := s.conn
	guildID = s.guildID
	m.metrics.Playback("started")
	log.Printf("[Voice] Guild %s: playing %s on %s", guildID, path, conn.ChannelID())

	go func() {
		defer close(pb.done)
		defer pcm.Close()
		defer pb.release()

		if err := conn.Speaking(true); err != nil {
			log.Printf("[WARN] [Voice] Guild %s: speaking on: %v", guildID, err)
		}
		err := m.streamer.Stream(pcm, pb.stop, conn.OpusSend())
		if err := conn.Speaking(false); err != nil {
			log.Printf("[WARN] [Voice] Guild %s: speaking off: %v", guildID, err)
		}

		if err != nil {
			log.Printf("[ERR] [Voice] Guild %s: playback of %s ended with error: %v", guildID, path, err)
			return
		}
		log.Printf("[Voice] Guild %s: finished %s", guildID, path)
	}()

	return nil
}

func (m *Manager) stopPlaybackLocked(s *session) {
	s.view.RLock()
	pb := s.playback
	s.view.RUnlock()
	if pb == nil {
		return
	}

	pb.halt()

	s.view.Lock()
	s.playback = nil
	s.view.Unlock()
}
