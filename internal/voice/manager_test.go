package voice

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"unmute-bot/internal/discordtypes"
	"unmute-bot/pkg/jobmgr"
)

func newTestManager(t *testing.T, gw *fakeGateway, st Streamer) *Manager {
	t.Helper()
	return newTestManagerOpts(t, gw, st, fastOptions())
}

func newTestManagerOpts(t *testing.T, gw *fakeGateway, st Streamer, opts Options) *Manager {
	t.Helper()
	jobs := jobmgr.NewManager(nil)
	m := NewManager(gw, st, jobs, opts)
	t.Cleanup(func() {
		m.Shutdown()
		jobs.Shutdown()
	})
	return m
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func TestConnectHandshakeFailureIsTerminalAfterThreeAttempts(t *testing.T) {
	gw := &fakeGateway{defErr: errHandshake}
	m := newTestManager(t, gw, nil)

	_, err := m.Connect(context.Background(), "g1", "c1")

	var cerr *ConnectError
	if !errors.As(err, &cerr) {
		t.Fatalf("Connect() error = %v, want *ConnectError", err)
	}
	if cerr.Kind != KindHandshake {
		t.Fatalf("Kind = %v, want handshake", cerr.Kind)
	}
	if cerr.Attempts != 3 || gw.joinCount() != 3 {
		t.Fatalf("attempts = %d, joins = %d, want 3", cerr.Attempts, gw.joinCount())
	}
	if cerr.Guidance() == "" {
		t.Fatalf("handshake failure carries no guidance")
	}
	if m.ChannelOf("g1") != "" {
		t.Fatalf("failed connect left a session")
	}
}

func TestConnectPermissionDeniedMakesNoAttempt(t *testing.T) {
	gw := &fakeGateway{denied: true}
	m := newTestManager(t, gw, nil)

	_, err := m.Connect(context.Background(), "g1", "c1")

	var cerr *ConnectError
	if !errors.As(err, &cerr) || cerr.Kind != KindPermissionDenied {
		t.Fatalf("Connect() error = %v, want permission denied", err)
	}
	if cerr.Retryable() {
		t.Fatalf("permission denied reported as retryable")
	}
	if gw.joinCount() != 0 {
		t.Fatalf("joins = %d, want 0", gw.joinCount())
	}
}

func TestConnectRetriesTransportErrors(t *testing.T) {
	gw := &fakeGateway{joinErrs: []error{errors.New("websocket: close 1006")}}
	m := newTestManager(t, gw, nil)

	sess, err := m.Connect(context.Background(), "g1", "c1")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if sess.ChannelID != "c1" || !sess.Ready {
		t.Fatalf("session = %+v", sess)
	}
	if gw.joinCount() != 2 {
		t.Fatalf("joins = %d, want 2", gw.joinCount())
	}
}

func TestConnectTimesOutEachAttempt(t *testing.T) {
	gw := &fakeGateway{blockJoin: true}
	m := newTestManager(t, gw, nil)

	_, err := m.Connect(context.Background(), "g1", "c1")

	var cerr *ConnectError
	if !errors.As(err, &cerr) || cerr.Kind != KindTimeout {
		t.Fatalf("Connect() error = %v, want timeout", err)
	}
	if gw.joinCount() != 3 {
		t.Fatalf("joins = %d, want 3", gw.joinCount())
	}
}

func TestConnectAdoptsLiveConnectionAfterHandshakeFailure(t *testing.T) {
	live := newFakeConn("c1")
	gw := &fakeGateway{defErr: errHandshake, live: live}
	m := newTestManager(t, gw, nil)

	if _, err := m.Connect(context.Background(), "g1", "c1"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if gw.joinCount() != 1 {
		t.Fatalf("joins = %d, want 1", gw.joinCount())
	}
	if m.ChannelOf("g1") != "c1" {
		t.Fatalf("ChannelOf() = %q", m.ChannelOf("g1"))
	}
}

func TestConnectReplacesExistingSession(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestManager(t, gw, nil)

	if _, err := m.Connect(context.Background(), "g1", "c1"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	first := m.lookup("g1").conn.(*fakeConn)

	if _, err := m.Connect(context.Background(), "g1", "c2"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !first.closed {
		t.Fatalf("previous connection not torn down")
	}
	if m.ChannelOf("g1") != "c2" {
		t.Fatalf("ChannelOf() = %q, want c2", m.ChannelOf("g1"))
	}
}

func TestDisconnectClearsHomeAndIsIdempotent(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestManager(t, gw, nil)

	if _, err := m.ConnectHome(context.Background(), "g1", "home"); err != nil {
		t.Fatalf("ConnectHome() error = %v", err)
	}
	if !m.Supervising("g1") {
		t.Fatalf("rejoin loop not started")
	}

	if err := m.Disconnect("g1"); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if m.Home("g1") != "" || m.Supervising("g1") {
		t.Fatalf("home = %q supervising = %v after disconnect", m.Home("g1"), m.Supervising("g1"))
	}
	if err := m.Disconnect("g1"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("second Disconnect() error = %v, want ErrNotConnected", err)
	}
	if err := m.Disconnect("unknown"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Disconnect(unknown) error = %v, want ErrNotConnected", err)
	}
}

func TestPlainConnectElsewhereDisablesHome(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestManager(t, gw, nil)

	if _, err := m.ConnectHome(context.Background(), "g1", "home"); err != nil {
		t.Fatalf("ConnectHome() error = %v", err)
	}
	if _, err := m.Connect(context.Background(), "g1", "other"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if m.Home("g1") != "" || m.Supervising("g1") {
		t.Fatalf("home still registered after connecting elsewhere")
	}
}

func TestFailedConnectHomeKeepsSupervision(t *testing.T) {
	gw := &fakeGateway{defErr: errors.New("websocket: close 1006")}
	m := newTestManager(t, gw, nil)

	if _, err := m.ConnectHome(context.Background(), "g1", "home"); err == nil {
		t.Fatalf("ConnectHome() error = nil, want failure")
	}
	if m.Home("g1") != "home" || !m.Supervising("g1") {
		t.Fatalf("home = %q supervising = %v", m.Home("g1"), m.Supervising("g1"))
	}
}

func TestReconcileMovesBackWithoutReconnecting(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestManager(t, gw, nil)

	if _, err := m.ConnectHome(context.Background(), "g1", "home"); err != nil {
		t.Fatalf("ConnectHome() error = %v", err)
	}
	conn := m.lookup("g1").conn.(*fakeConn)
	conn.channel = "elsewhere"
	joins := gw.joinCount()

	if done := m.Reconcile(context.Background(), "g1", "test"); done {
		t.Fatalf("Reconcile() reported done with a home channel set")
	}
	if conn.moveCount() != 1 || conn.ChannelID() != "home" {
		t.Fatalf("moves = %v, want exactly one move to home", conn.moves)
	}
	if gw.joinCount() != joins {
		t.Fatalf("joins = %d, want %d", gw.joinCount(), joins)
	}
}

func TestReconcileReconnectsWithTwoAttempts(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestManager(t, gw, nil)

	if _, err := m.ConnectHome(context.Background(), "g1", "home"); err != nil {
		t.Fatalf("ConnectHome() error = %v", err)
	}
	m.lookup("g1").conn.(*fakeConn).Disconnect()

	gw.mu.Lock()
	gw.defErr = errors.New("websocket: close 1006")
	gw.mu.Unlock()
	joins := gw.joinCount()

	m.Reconcile(context.Background(), "g1", "test")

	if got := gw.joinCount() - joins; got != 2 {
		t.Fatalf("reconnect attempts = %d, want 2", got)
	}
	if m.Home("g1") != "home" {
		t.Fatalf("failed rejoin cleared home")
	}
}

func TestReconcileWithoutHomeIsDone(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestManager(t, gw, nil)

	if _, err := m.Connect(context.Background(), "g1", "c1"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !m.Reconcile(context.Background(), "g1", "test") {
		t.Fatalf("Reconcile() = false without home")
	}
	if !m.Reconcile(context.Background(), "nope", "test") {
		t.Fatalf("Reconcile() = false for unknown guild")
	}
}

func TestSelfVoiceStateLeavingHomeTriggersCorrection(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestManager(t, gw, nil)

	if _, err := m.ConnectHome(context.Background(), "g1", "home"); err != nil {
		t.Fatalf("ConnectHome() error = %v", err)
	}
	conn := m.lookup("g1").conn.(*fakeConn)
	conn.Move("elsewhere")

	m.HandleSelfVoiceState(discordtypes.VoiceStateChange{
		GuildID: "g1",
		Before:  &discordtypes.VoiceState{ChannelID: "home"},
		After:   &discordtypes.VoiceState{ChannelID: "elsewhere"},
	})

	waitFor(t, func() bool { return conn.ChannelID() == "home" })
	if conn.moveCount() != 2 {
		t.Fatalf("moves = %v, want the manual move plus one correction", conn.moves)
	}
}

func TestSupervisorLoopRunsOnInterval(t *testing.T) {
	gw := &fakeGateway{}
	jobs := jobmgr.NewManager(nil)
	opts := fastOptions()
	opts.RejoinInterval = 10 * time.Millisecond
	m := NewManager(gw, nil, jobs, opts)
	t.Cleanup(func() {
		m.Shutdown()
		jobs.Shutdown()
	})

	if _, err := m.ConnectHome(context.Background(), "g1", "home"); err != nil {
		t.Fatalf("ConnectHome() error = %v", err)
	}
	m.lookup("g1").conn.(*fakeConn).Disconnect()

	waitFor(t, func() bool {
		sess, _ := m.Session("g1")
		return gw.joinCount() >= 2 && sess.ChannelID == "home" && sess.Ready
	})
}

func writeAsset(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "join.opus")
	if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
		t.Fatalf("write asset: %v", err)
	}
	return p
}

func TestPlayErrors(t *testing.T) {
	asset := writeAsset(t)

	t.Run("not connected", func(t *testing.T) {
		m := newTestManager(t, &fakeGateway{}, &fakeStreamer{exe: "ffmpeg"})
		if err := m.Play(context.Background(), "g1", asset); !errors.Is(err, ErrNotConnected) {
			t.Fatalf("Play() error = %v, want ErrNotConnected", err)
		}
	})

	t.Run("no decoder", func(t *testing.T) {
		m := newTestManager(t, &fakeGateway{}, &fakeStreamer{})
		m.Connect(context.Background(), "g1", "c1")
		if err := m.Play(context.Background(), "g1", asset); !errors.Is(err, ErrTranscoderUnavailable) {
			t.Fatalf("Play() error = %v, want ErrTranscoderUnavailable", err)
		}
	})

	t.Run("missing asset", func(t *testing.T) {
		m := newTestManager(t, &fakeGateway{}, &fakeStreamer{exe: "ffmpeg"})
		m.Connect(context.Background(), "g1", "c1")
		if err := m.Play(context.Background(), "g1", asset+".missing"); !errors.Is(err, ErrAssetNotFound) {
			t.Fatalf("Play() error = %v, want ErrAssetNotFound", err)
		}
	})

	t.Run("decoder fails to start", func(t *testing.T) {
		boom := errors.New("exec: permission denied")
		m := newTestManager(t, &fakeGateway{}, &fakeStreamer{exe: "ffmpeg", openErr: boom})
		m.Connect(context.Background(), "g1", "c1")
		err := m.Play(context.Background(), "g1", asset)
		if !errors.Is(err, ErrPlaybackStartFailed) || !errors.Is(err, boom) {
			t.Fatalf("Play() error = %v, want ErrPlaybackStartFailed wrapping cause", err)
		}
	})
}

func TestPlayReplacesCurrentStream(t *testing.T) {
	asset := writeAsset(t)
	st := &fakeStreamer{exe: "ffmpeg", started: make(chan struct{}, 2)}
	m := newTestManager(t, &fakeGateway{}, st)

	if _, err := m.Connect(context.Background(), "g1", "c1"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := m.Play(context.Background(), "g1", asset); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	<-st.started
	first := m.lookup("g1").playback

	if err := m.Play(context.Background(), "g1", asset); err != nil {
		t.Fatalf("second Play() error = %v", err)
	}
	<-st.started

	if first.active() {
		t.Fatalf("first stream still running after replacement")
	}
	sess, _ := m.Session("g1")
	if sess.Playing != asset {
		t.Fatalf("Playing = %q, want %q", sess.Playing, asset)
	}
}

func (g *fakeGateway) connCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

func TestCancelledRejoinDoesNotOrphanJoin(t *testing.T) {
	gw := &fakeGateway{}
	opts := fastOptions()
	opts.AttemptTimeout = time.Second
	m := newTestManagerOpts(t, gw, nil, opts)

	if _, err := m.ConnectHome(context.Background(), "g1", "home"); err != nil {
		t.Fatalf("ConnectHome() error = %v", err)
	}
	m.lookup("g1").conn.(*fakeConn).Disconnect()
	gw.setDelay(80 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Reconcile(ctx, "g1", "interval")
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	if err := m.Disconnect("g1"); err != nil {
		t.Fatalf("Disconnect() error = %v, want the rejoined connection closed", err)
	}
	<-done

	if n := gw.openConns(); n != 0 {
		t.Fatalf("open connections after Disconnect = %d, want 0", n)
	}
	if m.ChannelOf("g1") != "" {
		t.Fatalf("session still reports channel %q", m.ChannelOf("g1"))
	}
}

func TestLateJoinAfterTimeoutIsClosed(t *testing.T) {
	gw := &fakeGateway{delay: 80 * time.Millisecond}
	m := newTestManager(t, gw, nil)

	_, err := m.Connect(context.Background(), "g1", "c1")
	var cerr *ConnectError
	if !errors.As(err, &cerr) || cerr.Kind != KindTimeout {
		t.Fatalf("Connect() error = %v, want timeout", err)
	}

	waitFor(t, func() bool { return gw.connCount() == 3 && gw.openConns() == 0 })
	if m.ChannelOf("g1") != "" {
		t.Fatalf("late join was adopted without a home channel")
	}
}

func TestLateJoinToHomeIsAdopted(t *testing.T) {
	gw := &fakeGateway{delay: 80 * time.Millisecond}
	m := newTestManager(t, gw, nil)

	if _, err := m.ConnectHome(context.Background(), "g1", "home"); err == nil {
		t.Fatalf("ConnectHome() error = nil, want timeout")
	}

	waitFor(t, func() bool {
		return gw.connCount() == 3 && gw.openConns() == 1 && m.ChannelOf("g1") == "home"
	})
	if sess, _ := m.Session("g1"); !sess.Ready {
		t.Fatalf("adopted session not ready: %+v", sess)
	}
}

// pipeStreamer reads the decoder pipe to EOF and ignores the stop channel,
// like a stream stuck on a stalled ffmpeg.
type pipeStreamer struct{}

func (s *pipeStreamer) Executable() string { return "ffmpeg" }

func (s *pipeStreamer) Open(path string) (io.ReadCloser, func(), error) {
	pr, pw := io.Pipe()
	return pr, func() { pw.Close() }, nil
}

func (s *pipeStreamer) Stream(pcm io.Reader, stop <-chan struct{}, send chan<- []byte) error {
	_, err := io.Copy(io.Discard, pcm)
	return err
}

func TestDisconnectEndsStalledDecoder(t *testing.T) {
	asset := writeAsset(t)
	m := newTestManager(t, &fakeGateway{}, &pipeStreamer{})

	if _, err := m.Connect(context.Background(), "g1", "c1"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := m.Play(context.Background(), "g1", asset); err != nil {
		t.Fatalf("Play() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- m.Disconnect("g1") }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Disconnect() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Disconnect() blocked on a stalled decoder")
	}
}
