// /internal/voice/manager.go
package voice

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"unmute-bot/internal/metrics"
	"unmute-bot/pkg/jobmgr"
	"unmute-bot/pkg/retrylimit"
)

var DefaultConnectDelays = []time.Duration{
	500 * time.Millisecond,
	1500 * time.Millisecond,
	2500 * time.Millisecond,
}

const (
	DefaultAttemptTimeout = 15 * time.Second
	DefaultRejoinInterval = time.Hour
	DefaultRejoinAttempts = 2
)

type Options struct {
	// ConnectDelays holds the wait before each attempt; its length is the
	// attempt budget of Connect.
	ConnectDelays  []time.Duration
	AttemptTimeout time.Duration
	RejoinInterval time.Duration
	RejoinAttempts int
	Metrics        *metrics.Metrics
}

func (o *Options) defaults() {
	if len(o.ConnectDelays) == 0 {
		o.ConnectDelays = DefaultConnectDelays
	}
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = DefaultAttemptTimeout
	}
	if o.RejoinInterval <= 0 {
		o.RejoinInterval = DefaultRejoinInterval
	}
	if o.RejoinAttempts <= 0 {
		o.RejoinAttempts = DefaultRejoinAttempts
	}
	if o.RejoinAttempts > len(o.ConnectDelays) {
		o.RejoinAttempts = len(o.ConnectDelays)
	}
}

// Session is a point-in-time view of a guild's voice session.
type Session struct {
	GuildID     string    `json:"guild_id"`
	ChannelID   string    `json:"channel_id"`
	Home        string    `json:"home,omitempty"`
	Ready       bool      `json:"ready"`
	Playing     string    `json:"playing,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
}

type session struct {
	guildID string

	// mu serialises connect, disconnect, move and play for the guild.
	mu sync.Mutex

	// view guards the fields below for readers that must not wait on mu.
	view        sync.RWMutex
	conn        Conn
	home        string
	connectedAt time.Time
	playback    *playback
}

func (s *session) setConn(c Conn) {
	s.view.Lock()
	s.conn = c
	if c != nil {
		s.connectedAt = time.Now()
	}
	s.view.Unlock()
}

func (s *session) setHome(h string) {
	s.view.Lock()
	s.home = h
	s.view.Unlock()
}

func (s *session) snapshot() Session {
	s.view.RLock()
	defer s.view.RUnlock()
	out := Session{GuildID: s.guildID, Home: s.home}
	if s.conn != nil {
		out.ChannelID = s.conn.ChannelID()
		out.Ready = s.conn.Ready()
		out.ConnectedAt = s.connectedAt
	}
	if s.playback != nil && s.playback.active() {
		out.Playing = s.playback.path
	}
	return out
}

// Manager owns every voice connection of the bot, one session per guild.
// It is the only component that mutates a connection.
type Manager struct {
	gw       Gateway
	streamer Streamer
	jobs     *jobmgr.Manager
	opts     Options
	metrics  *metrics.Metrics

	mu       sync.Mutex
	sessions map[string]*session
}

func NewManager(gw Gateway, streamer Streamer, jobs *jobmgr.Manager, opts Options) *Manager {
	opts.defaults()
	if jobs == nil {
		jobs = jobmgr.NewManager(nil)
	}
	return &Manager{
		gw:       gw,
		streamer: streamer,
		jobs:     jobs,
		opts:     opts,
		metrics:  opts.Metrics,
		sessions: make(map[string]*session),
	}
}

func (m *Manager) entry(guildID string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[guildID]
	if !ok {
		s = &session{guildID: guildID}
		m.sessions[guildID] = s
	}
	return s
}

func (m *Manager) lookup(guildID string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[guildID]
}

// Connect joins channelID, replacing any existing session of the guild.
// Connecting anywhere other than the registered home channel disables
// auto-rejoin.
func (m *Manager) Connect(ctx context.Context, guildID, channelID string) (Session, error) {
	s := m.entry(guildID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.home != "" && s.home != channelID {
		log.Printf("[Voice] Guild %s: leaving home channel %s on request, auto-rejoin disabled", guildID, s.home)
		s.setHome("")
		m.stopRejoin(guildID)
	}

	if err := m.connectLocked(ctx, s, channelID, m.opts.ConnectDelays); err != nil {
		return s.snapshot(), err
	}
	if s.home != "" {
		m.startRejoin(guildID)
	}
	return s.snapshot(), nil
}

// ConnectHome registers channelID as the guild's home channel and joins it.
// The rejoin loop starts even when the join fails, so the supervisor keeps
// trying on its interval.
func (m *Manager) ConnectHome(ctx context.Context, guildID, channelID string) (Session, error) {
	s := m.entry(guildID)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.setHome(channelID)
	err := m.connectLocked(ctx, s, channelID, m.opts.ConnectDelays)
	m.startRejoin(guildID)
	return s.snapshot(), err
}

func (m *Manager) connectLocked(ctx context.Context, s *session, channelID string, delays []time.Duration) error {
	if err := m.gw.CanConnect(s.guildID, channelID); err != nil {
		m.metrics.ConnectAttempt(KindPermissionDenied.String())
		return &ConnectError{Kind: KindPermissionDenied, GuildID: s.guildID, ChannelID: channelID, Err: err}
	}

	if s.conn != nil {
		m.teardownLocked(s)
	}

	var (
		conn     Conn
		attempts int
	)

	cfg := retrylimit.ScheduleConfig(delays...)
	cfg.OnRetry = func(attempt int, err error) {
		log.Printf("[WARN] [Voice] Guild %s: connect attempt %d/%d to %s failed (%s): %v",
			s.guildID, attempt, len(delays), channelID, Classify(err), err)
	}

	err := retrylimit.WithRetryConfig(ctx, func() error {
		attempts++
		c, err := m.attempt(ctx, s, channelID)
		if err == nil {
			conn = c
			m.metrics.ConnectAttempt("ok")
			return nil
		}

		kind := Classify(err)
		m.metrics.ConnectAttempt(kind.String())

		switch kind {
		case KindHandshake:
			// The platform sometimes reports the connection as live even
			// though the handshake call failed.
			if live := m.gw.Live(s.guildID); live != nil && live.Ready() && live.ChannelID() == channelID {
				log.Printf("[WARN] [Voice] Guild %s: handshake reported failure but connection to %s is live, adopting it", s.guildID, channelID)
				conn = live
				return nil
			}
		case KindPermissionDenied:
			return &retrylimit.FatalError{Err: err}
		}
		return err
	}, nil, cfg)

	if err != nil {
		last := err
		var exhausted *retrylimit.ExhaustedError
		var fatal *retrylimit.FatalError
		switch {
		case errors.As(err, &exhausted):
			last = exhausted.Err
		case errors.As(err, &fatal):
			last = fatal.Err
		}
		cerr := &ConnectError{
			Kind:      Classify(last),
			GuildID:   s.guildID,
			ChannelID: channelID,
			Attempts:  attempts,
			Err:       last,
		}
		log.Printf("[ERR] [Voice] Guild %s: %v", s.guildID, cerr)
		return cerr
	}

	s.setConn(conn)
	m.refreshGauge()
	log.Printf("[DONE] [Voice] Guild %s: connected to %s after %d attempt(s)", s.guildID, channelID, attempts)
	return nil
}

type joinResult struct {
	conn Conn
	err  error
}

// attempt runs one Join bounded by the attempt timeout. Cancelling ctx does
// not abandon a join in flight: the call returns when the join does or when
// its own timeout expires.
func (m *Manager) attempt(ctx context.Context, s *session, channelID string) (Conn, error) {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.AttemptTimeout)
	defer cancel()

	ch := make(chan joinResult, 1)
	go func() {
		c, err := m.gw.Join(actx, s.guildID, channelID)
		ch <- joinResult{c, err}
	}()

	select {
	case r := <-ch:
		if r.err == nil && r.conn == nil {
			return nil, fmt.Errorf("join returned no connection")
		}
		return r.conn, r.err
	case <-actx.Done():
		go m.settleLate(s, channelID, ch)
		return nil, fmt.Errorf("no voice connection within %v: %w", m.opts.AttemptTimeout, context.DeadlineExceeded)
	}
}

// settleLate handles a join that completed after its attempt timed out. The
// connection is adopted when the session still has none and wants that
// channel as home; otherwise it is closed so nothing stays in voice unmanaged.
func (m *Manager) settleLate(s *session, channelID string, ch <-chan joinResult) {
	r := <-ch
	if r.err != nil || r.conn == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.conn == r.conn:
	case s.conn == nil && s.home == channelID:
		log.Printf("[WARN] [Voice] Guild %s: late join to %s completed, adopting it", s.guildID, channelID)
		s.setConn(r.conn)
		m.refreshGauge()
	default:
		log.Printf("[WARN] [Voice] Guild %s: closing late join to %s", s.guildID, channelID)
		if err := r.conn.Disconnect(); err != nil {
			log.Printf("[WARN] [Voice] Guild %s: disconnect failed: %v", s.guildID, err)
		}
	}
}

// Disconnect leaves the guild's voice channel and disables auto-rejoin.
func (m *Manager) Disconnect(guildID string) error {
	m.stopRejoin(guildID)

	s := m.lookup(guildID)
	if s == nil {
		return ErrNotConnected
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.setHome("")
	if s.conn == nil {
		return ErrNotConnected
	}
	m.teardownLocked(s)
	m.refreshGauge()
	return nil
}

func (m *Manager) teardownLocked(s *session) {
	m.stopPlaybackLocked(s)
	if err := s.conn.Disconnect(); err != nil {
		log.Printf("[WARN] [Voice] Guild %s: disconnect failed: %v", s.guildID, err)
	}
	s.setConn(nil)
}

// Move re-targets the live connection without reconnecting.
func (m *Manager) Move(guildID, channelID string) error {
	s := m.lookup(guildID)
	if s == nil {
		return ErrNotConnected
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return m.moveLocked(s, channelID)
}

func (m *Manager) moveLocked(s *session, channelID string) error {
	if s.conn == nil {
		return ErrNotConnected
	}
	if s.conn.ChannelID() == channelID {
		return nil
	}
	if err := s.conn.Move(channelID); err != nil {
		return fmt.Errorf("move to %s: %w", channelID, err)
	}
	log.Printf("[Voice] Guild %s: moved to %s", s.guildID, channelID)
	return nil
}

// ChannelOf returns the channel the guild's connection is on, or "".
func (m *Manager) ChannelOf(guildID string) string {
	s := m.lookup(guildID)
	if s == nil {
		return ""
	}
	s.view.RLock()
	defer s.view.RUnlock()
	if s.conn == nil {
		return ""
	}
	return s.conn.ChannelID()
}

// Home returns the registered home channel, or "".
func (m *Manager) Home(guildID string) string {
	s := m.lookup(guildID)
	if s == nil {
		return ""
	}
	s.view.RLock()
	defer s.view.RUnlock()
	return s.home
}

// Session returns the guild's session view.
func (m *Manager) Session(guildID string) (Session, bool) {
	s := m.lookup(guildID)
	if s == nil {
		return Session{}, false
	}
	return s.snapshot(), true
}

// Sessions lists every known session sorted by guild.
func (m *Manager) Sessions() []Session {
	m.mu.Lock()
	list := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.Unlock()

	out := make([]Session, 0, len(list))
	for _, s := range list {
		out = append(out, s.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GuildID < out[j].GuildID })
	return out
}

// Forget drops all state for a guild the bot was removed from.
func (m *Manager) Forget(guildID string) {
	if err := m.Disconnect(guildID); err != nil && !errors.Is(err, ErrNotConnected) {
		log.Printf("[WARN] [Voice] Guild %s: %v", guildID, err)
	}
	m.mu.Lock()
	delete(m.sessions, guildID)
	m.mu.Unlock()
	m.refreshGauge()
}

// Shutdown stops every rejoin loop and disconnects every session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.Disconnect(id); err != nil && !errors.Is(err, ErrNotConnected) {
			log.Printf("[WARN] [Voice] Guild %s: %v", id, err)
		}
	}
	log.Println("[INFO] [Voice] All voice sessions closed")
}

func (m *Manager) refreshGauge() {
	if m.metrics == nil {
		return
	}
	n := 0
	for _, s := range m.Sessions() {
		if s.ChannelID != "" {
			n++
		}
	}
	m.metrics.SetActiveSessions(n)
}
