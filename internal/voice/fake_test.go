package voice

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"
)

type fakeConn struct {
	mu       sync.Mutex
	channel  string
	ready    bool
	moves    []string
	closed   bool
	speaking []bool
	send     chan []byte
}

func newFakeConn(channel string) *fakeConn {
	return &fakeConn{channel: channel, ready: true, send: make(chan []byte, 64)}
}

func (c *fakeConn) ChannelID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel
}

func (c *fakeConn) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready && !c.closed
}

func (c *fakeConn) Move(ch string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.moves = append(c.moves, ch)
	c.channel = ch
	return nil
}

func (c *fakeConn) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) Speaking(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.speaking = append(c.speaking, on)
	return nil
}

func (c *fakeConn) OpusSend() chan<- []byte { return c.send }

func (c *fakeConn) moveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.moves)
}

type fakeGateway struct {
	mu        sync.Mutex
	joins     []string
	joinErrs  []error // consumed per call; nil entry means success
	defErr    error   // returned once joinErrs is exhausted; nil means success
	denied    bool
	live      Conn
	blockJoin bool
	delay     time.Duration // Join sleeps this long and ignores ctx
	conns     []*fakeConn
}

func (g *fakeGateway) CanConnect(guildID, channelID string) error {
	if g.denied {
		return ErrPermissionDenied
	}
	return nil
}

func (g *fakeGateway) Join(ctx context.Context, guildID, channelID string) (Conn, error) {
	g.mu.Lock()
	g.joins = append(g.joins, channelID)
	var err error
	if len(g.joinErrs) > 0 {
		err = g.joinErrs[0]
		g.joinErrs = g.joinErrs[1:]
	} else {
		err = g.defErr
	}
	block := g.blockJoin
	delay := g.delay
	g.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	c := newFakeConn(channelID)
	g.mu.Lock()
	g.conns = append(g.conns, c)
	g.mu.Unlock()
	return c, nil
}

func (g *fakeGateway) setDelay(d time.Duration) {
	g.mu.Lock()
	g.delay = d
	g.mu.Unlock()
}

// openConns counts connections handed out and never disconnected.
func (g *fakeGateway) openConns() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.conns {
		c.mu.Lock()
		if !c.closed {
			n++
		}
		c.mu.Unlock()
	}
	return n
}

func (g *fakeGateway) Live(guildID string) Conn {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.live
}

func (g *fakeGateway) joinCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.joins)
}

type fakeStreamer struct {
	exe     string
	openErr error
	mu      sync.Mutex
	opened  []string
	started chan struct{}
}

func (s *fakeStreamer) Executable() string { return s.exe }

func (s *fakeStreamer) Open(path string) (io.ReadCloser, func(), error) {
	if s.openErr != nil {
		return nil, nil, s.openErr
	}
	s.mu.Lock()
	s.opened = append(s.opened, path)
	s.mu.Unlock()
	return io.NopCloser(strings.NewReader("pcm")), func() {}, nil
}

// Stream blocks until stopped so tests can observe a running playback.
func (s *fakeStreamer) Stream(pcm io.Reader, stop <-chan struct{}, send chan<- []byte) error {
	if s.started != nil {
		s.started <- struct{}{}
	}
	<-stop
	return nil
}

var errHandshake = errors.New("voice: unsupported encryption mode")

func fastOptions() Options {
	return Options{
		ConnectDelays:  []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond},
		AttemptTimeout: 50 * time.Millisecond,
		RejoinInterval: time.Hour,
	}
}
