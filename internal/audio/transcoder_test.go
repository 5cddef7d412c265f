package audio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
	fail  map[string]bool // source base name -> fail
}

func (f *fakeRunner) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, args)
	f.mu.Unlock()

	src := args[slices.Index(args, "-i")+1]
	if f.fail[filepath.Base(src)] {
		return []byte("boom"), errors.New("exit status 1")
	}
	dst := args[len(args)-1]
	return nil, os.WriteFile(dst, []byte("opus"), 0o644)
}

func TestEncodeAllSkipsEncodedAndContinuesOnFailure(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a.mp3", "b.mp3", "b.opus", "c.mp3", "readme.txt")

	fr := &fakeRunner{fail: map[string]bool{"c.mp3": true}}
	tr := NewTranscoder("ffmpeg", dir, 2)
	tr.run = fr.run

	rep, err := tr.EncodeAll(context.Background())
	if err != nil {
		t.Fatalf("EncodeAll() error = %v", err)
	}

	if !slices.Equal(rep.Encoded, []string{"a.mp3"}) {
		t.Fatalf("Encoded = %v", rep.Encoded)
	}
	if !slices.Equal(rep.Skipped, []string{"b.mp3"}) {
		t.Fatalf("Skipped = %v", rep.Skipped)
	}
	if !slices.Equal(rep.Failed, []string{"c.mp3"}) {
		t.Fatalf("Failed = %v", rep.Failed)
	}

	if _, err := os.Stat(filepath.Join(dir, "a.opus")); err != nil {
		t.Fatalf("a.opus missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "c.opus")); !os.IsNotExist(err) {
		t.Fatalf("c.opus should not exist after failure")
	}
	if _, err := os.Stat(filepath.Join(dir, "c.opus.part")); !os.IsNotExist(err) {
		t.Fatalf("temporary file left behind")
	}
}

func TestEncodeAllWithoutFFmpeg(t *testing.T) {
	tr := NewTranscoder("", t.TempDir(), 1)
	if _, err := tr.EncodeAll(context.Background()); !errors.Is(err, ErrFFmpegNotFound) {
		t.Fatalf("EncodeAll() error = %v, want ErrFFmpegNotFound", err)
	}
}

func TestEncodeArgsProfile(t *testing.T) {
	greeting := EncodeArgs("Alice_Molda.mp3", "out", true)
	if i := slices.Index(greeting, "-application"); i < 0 || greeting[i+1] != "lowdelay" {
		t.Fatalf("greeting args = %v", greeting)
	}
	plain := EncodeArgs("New_comers_molda.mp3", "out", false)
	if i := slices.Index(plain, "-application"); i < 0 || plain[i+1] != "audio" {
		t.Fatalf("plain args = %v", plain)
	}
	if i := slices.Index(plain, "-c:a"); i < 0 || plain[i+1] != "libopus" {
		t.Fatalf("codec missing: %v", plain)
	}
}

func TestCleanupRemovesOnlyEncoded(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a.mp3", "a.opus", "b.opus")

	tr := NewTranscoder("ffmpeg", dir, 1)
	removed, err := tr.Cleanup()
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if len(removed) != 2 {
		t.Fatalf("removed = %v", removed)
	}
	if _, err := os.Stat(filepath.Join(dir, "a.mp3")); err != nil {
		t.Fatalf("source removed: %v", err)
	}
}

func TestDecodePCM(t *testing.T) {
	dst := make([]int16, 2)
	DecodePCM([]byte{0x01, 0x00, 0xff, 0xff}, dst)
	if dst[0] != 1 || dst[1] != -1 {
		t.Fatalf("DecodePCM() = %v", dst)
	}
}
