package commands

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"unmute-bot/internal/audio"
	"unmute-bot/internal/voice"
	"unmute-bot/pkg/cmd"
	"unmute-bot/pkg/jobmgr"
)

type fakeVoice struct {
	mu         sync.Mutex
	connectErr error
	playErr    error
	connected  map[string]string
	home       map[string]string
	played     []string
}

func newFakeVoice() *fakeVoice {
	return &fakeVoice{connected: map[string]string{}, home: map[string]string{}}
}

func (v *fakeVoice) Connect(ctx context.Context, g, c string) (voice.Session, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.connectErr != nil {
		return voice.Session{}, v.connectErr
	}
	v.connected[g] = c
	return voice.Session{GuildID: g, ChannelID: c, Ready: true}, nil
}

func (v *fakeVoice) ConnectHome(ctx context.Context, g, c string) (voice.Session, error) {
	v.mu.Lock()
	v.home[g] = c
	v.mu.Unlock()
	return v.Connect(ctx, g, c)
}

func (v *fakeVoice) Disconnect(g string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.home, g)
	if _, ok := v.connected[g]; !ok {
		return voice.ErrNotConnected
	}
	delete(v.connected, g)
	return nil
}

func (v *fakeVoice) Play(ctx context.Context, g, path string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.playErr != nil {
		return v.playErr
	}
	v.played = append(v.played, path)
	return nil
}

func (v *fakeVoice) Session(g string) (voice.Session, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	c, ok := v.connected[g]
	return voice.Session{GuildID: g, ChannelID: c, Home: v.home[g], Ready: ok}, ok
}

func (v *fakeVoice) Supervising(g string) bool { return v.home[g] != "" }

type fakeCatalogue struct{}

func (fakeCatalogue) Resolve(name string) (string, error) {
	if name == "clip.mp3" {
		return "/audio/clip.opus", nil
	}
	return "", audio.ErrNotFound
}
func (fakeCatalogue) Default() (string, error) { return "/audio/New_comers_molda.opus", nil }
func (fakeCatalogue) Greeting(name string) (string, error) {
	if name == "alice" {
		return "/audio/Alice_Molda.opus", nil
	}
	return "", audio.ErrNotFound
}
func (fakeCatalogue) Greetings() []audio.Greeting {
	return []audio.Greeting{{Name: "alice", File: "Alice_Molda.mp3"}}
}

type fakeChannels map[string][2]string // id -> guild, name

func (f fakeChannels) VoiceChannel(id string) (string, string, error) {
	if id == "text" {
		return "g", "general", ErrNotVoiceChannel
	}
	c, ok := f[id]
	if !ok {
		return "", "", ErrChannelNotFound
	}
	return c[0], c[1], nil
}

type fakeEncoder struct {
	rep audio.Report
	err error
}

func (e fakeEncoder) EncodeAll(ctx context.Context) (audio.Report, error) { return e.rep, e.err }

type harness struct {
	reg     *cmd.Registry
	voice   *fakeVoice
	replies []string
}

func newHarness(t *testing.T, enc Encoder) *harness {
	t.Helper()
	jobs := jobmgr.NewManager(nil)
	t.Cleanup(jobs.Shutdown)
	h := &harness{reg: cmd.NewRegistry(), voice: newFakeVoice()}
	if enc == nil {
		enc = fakeEncoder{}
	}
	Register(h.reg, Deps{
		Voice:         h.voice,
		Catalogue:     fakeCatalogue{},
		Encoder:       enc,
		Channels:      fakeChannels{"100": {"g", "Lobby"}, "200": {"g", "Molda"}, "900": {"other", "Elsewhere"}},
		Jobs:          jobs,
		HomeChannelID: "200",
	})
	return h
}

func (h *harness) run(t *testing.T, admin bool, line string) string {
	t.Helper()
	fields := strings.Fields(line)
	c := h.reg.Get(fields[0])
	if c == nil {
		t.Fatalf("command %q not registered", fields[0])
	}
	h.replies = nil
	mc := &Context{
		GuildID:  "g",
		AuthorID: "u",
		IsAdmin:  admin,
		Reply: func(msg string) error {
			h.replies = append(h.replies, msg)
			return nil
		},
	}
	if err := c.Run(context.Background(), &cmd.Invocation{Args: fields[1:], Data: mc}); err != nil {
		t.Logf("%s returned %v", fields[0], err)
	}
	return strings.Join(h.replies, "\n")
}

func TestNonAdminIsRejected(t *testing.T) {
	h := newHarness(t, nil)
	out := h.run(t, false, "join-channel 100")
	if !strings.Contains(out, "administrators only") {
		t.Fatalf("reply = %q", out)
	}
	if len(h.voice.connected) != 0 {
		t.Fatalf("non-admin command connected")
	}
}

func TestJoinChannelValidatesTarget(t *testing.T) {
	h := newHarness(t, nil)

	if out := h.run(t, true, "join-channel 404"); !strings.Contains(out, "not found") {
		t.Fatalf("missing channel reply = %q", out)
	}
	if out := h.run(t, true, "join-channel text"); !strings.Contains(out, "not a voice channel") {
		t.Fatalf("text channel reply = %q", out)
	}
	if out := h.run(t, true, "join-channel 900"); !strings.Contains(out, "not in this server") {
		t.Fatalf("foreign channel reply = %q", out)
	}
	if out := h.run(t, true, "join-channel 100"); !strings.Contains(out, "Joined Lobby") {
		t.Fatalf("join reply = %q", out)
	}
	if h.voice.connected["g"] != "100" {
		t.Fatalf("connected = %v", h.voice.connected)
	}
}

func TestJoinChannelHandshakeFailureShowsGuidance(t *testing.T) {
	h := newHarness(t, nil)
	h.voice.connectErr = &voice.ConnectError{Kind: voice.KindHandshake, Attempts: 3, Err: voice.ErrHandshake}

	out := h.run(t, true, "join-channel 100")
	if !strings.Contains(out, "Try another voice channel") {
		t.Fatalf("reply = %q, want remediation guidance", out)
	}
}

func TestJoinHomeDefaultsToConfiguredChannel(t *testing.T) {
	h := newHarness(t, nil)

	out := h.run(t, true, "join-channel-molda")
	if !strings.Contains(out, "auto-rejoin enabled") {
		t.Fatalf("reply = %q", out)
	}
	if h.voice.home["g"] != "200" {
		t.Fatalf("home = %v", h.voice.home)
	}

	if out := h.run(t, true, "leave-channel-molda"); !strings.Contains(out, "disabled auto-rejoin") {
		t.Fatalf("leave reply = %q", out)
	}
	if h.voice.home["g"] != "" {
		t.Fatalf("home not cleared")
	}
}

func TestLeaveWhenNotConnected(t *testing.T) {
	h := newHarness(t, nil)
	if out := h.run(t, true, "leave-channel"); !strings.Contains(out, "not in a voice channel") {
		t.Fatalf("reply = %q", out)
	}
}

func TestPlayJoin(t *testing.T) {
	h := newHarness(t, nil)

	h.run(t, true, "play-join")
	h.run(t, true, "play-join clip.mp3")
	if out := h.run(t, true, "play-join missing.mp3"); !strings.Contains(out, "not found") {
		t.Fatalf("missing file reply = %q", out)
	}

	want := []string{"/audio/New_comers_molda.opus", "/audio/clip.opus"}
	if strings.Join(h.voice.played, ",") != strings.Join(want, ",") {
		t.Fatalf("played = %v, want %v", h.voice.played, want)
	}

	h.voice.playErr = voice.ErrNotConnected
	if out := h.run(t, true, "play-join"); !strings.Contains(out, "not in a voice channel") {
		t.Fatalf("not connected reply = %q", out)
	}
}

func TestGreetingCommandsAreRegistered(t *testing.T) {
	h := newHarness(t, nil)
	h.run(t, true, "play-audio-greeting-alice")
	if len(h.voice.played) != 1 || h.voice.played[0] != "/audio/Alice_Molda.opus" {
		t.Fatalf("played = %v", h.voice.played)
	}
}

func TestEncodeAudioReportsCounts(t *testing.T) {
	h := newHarness(t, fakeEncoder{rep: audio.Report{Encoded: []string{"a.mp3"}, Skipped: []string{"b.mp3"}}})
	out := h.run(t, true, "encode-audio")
	if !strings.Contains(out, "1 encoded, 1 already encoded, 0 failed") {
		t.Fatalf("reply = %q", out)
	}

	h = newHarness(t, fakeEncoder{err: audio.ErrFFmpegNotFound})
	if out := h.run(t, true, "encode-audio"); !strings.Contains(out, "ffmpeg not available") {
		t.Fatalf("reply = %q", out)
	}
}

func TestGuildOnlyDropsDirectMessages(t *testing.T) {
	h := newHarness(t, nil)
	c := h.reg.Get("leave-channel")
	called := false
	mc := &Context{IsAdmin: true, Reply: func(string) error { called = true; return nil }}
	if err := c.Run(context.Background(), &cmd.Invocation{Data: mc}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if called {
		t.Fatalf("command replied outside a guild")
	}
}

func TestMissingContextIsAnError(t *testing.T) {
	h := newHarness(t, nil)
	err := h.reg.Get("voice-status").Run(context.Background(), &cmd.Invocation{})
	if !errors.Is(err, ErrNoContext) {
		t.Fatalf("Run() error = %v, want ErrNoContext", err)
	}
}

func TestResolveChannel(t *testing.T) {
	d := Deps{Channels: fakeChannels{"100": {"g", "Lobby"}, "900": {"other", "Elsewhere"}}}

	tests := []struct {
		name     string
		args     []string
		fallback string
		want     error
		wantID   string
	}{
		{"argument", []string{" 100 "}, "", nil, "100"},
		{"fallback", nil, "100", nil, "100"},
		{"missing", nil, "", ErrMissingArgument, ""},
		{"foreign", []string{"900"}, "", ErrForeignChannel, "900"},
		{"text", []string{"text"}, "", ErrNotVoiceChannel, "text"},
		{"unknown", []string{"404"}, "", ErrChannelNotFound, "404"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, _, err := d.resolveChannel("g", tt.args, tt.fallback)
			if tt.want == nil && err != nil || tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("resolveChannel() error = %v, want %v", err, tt.want)
			}
			if id != tt.wantID {
				t.Fatalf("resolveChannel() id = %q, want %q", id, tt.wantID)
			}
		})
	}
}
