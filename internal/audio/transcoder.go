// /internal/audio/transcoder.go
package audio

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"unmute-bot/internal/metrics"
	"unmute-bot/pkg/util"
)

const DefaultTranscodeTimeout = 300 * time.Second

var ErrFFmpegNotFound = errors.New("ffmpeg executable not found")

// Report summarises one EncodeAll run. Paths are source file names.
type Report struct {
	Encoded []string
	Skipped []string
	Failed  []string
}

func (r Report) String() string {
	return fmt.Sprintf("encoded=%d skipped=%d failed=%d", len(r.Encoded), len(r.Skipped), len(r.Failed))
}

// RunFunc executes an external command and returns its combined output.
type RunFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// Transcoder converts the catalogue's .mp3 sources into .opus siblings.
type Transcoder struct {
	FFmpeg  string
	Dir     string
	Timeout time.Duration
	Workers int
	Metrics *metrics.Metrics

	run RunFunc
}

func NewTranscoder(ffmpeg, dir string, workers int) *Transcoder {
	return &Transcoder{
		FFmpeg:  ffmpeg,
		Dir:     dir,
		Timeout: DefaultTranscodeTimeout,
		Workers: workers,
		run:     execRun,
	}
}

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// EncodeArgs builds the ffmpeg arguments for one file. Greeting files get the
// low-delay profile.
func EncodeArgs(src, dst string, greeting bool) []string {
	application := "audio"
	if greeting {
		application = "lowdelay"
	}
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-i", src,
		"-vn",
		"-c:a", "libopus",
		"-b:a", "96k",
		"-ar", "48000",
		"-ac", "2",
		"-application", application,
		"-f", "ogg",
		dst,
	}
}

// Sources lists the .mp3 files in the directory, sorted.
func (t *Transcoder) Sources() ([]string, error) {
	entries, err := os.ReadDir(t.Dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), SourceExt) {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out, nil
}

// EncodeAll encodes every source without an encoded sibling. Per-file
// failures are logged and reported; they never stop the batch.
func (t *Transcoder) EncodeAll(ctx context.Context) (Report, error) {
	var rep Report
	if t.FFmpeg == "" {
		return rep, ErrFFmpegNotFound
	}

	sources, err := t.Sources()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Printf("[WARN] Audio directory %q does not exist, nothing to encode", t.Dir)
			return rep, nil
		}
		return rep, fmt.Errorf("list sources: %w", err)
	}

	var mu sync.Mutex
	record := func(list *[]string, name, result string) {
		mu.Lock()
		*list = append(*list, name)
		mu.Unlock()
		t.Metrics.Transcode(result)
	}

	err = util.Parallel(ctx, sources, t.Workers, func(ctx context.Context, name string) error {
		skipped, err := t.Encode(ctx, name)
		switch {
		case err != nil:
			log.Printf("[ERR] Failed to encode %s: %v", name, err)
			record(&rep.Failed, name, "failed")
		case skipped:
			record(&rep.Skipped, name, "skipped")
		default:
			log.Printf("[DONE] Encoded %s", name)
			record(&rep.Encoded, name, "encoded")
		}
		return nil
	})

	sort.Strings(rep.Encoded)
	sort.Strings(rep.Skipped)
	sort.Strings(rep.Failed)
	return rep, err
}

// Encode transcodes one source file, named relative to Dir. It reports
// skipped when the encoded sibling already exists.
func (t *Transcoder) Encode(ctx context.Context, name string) (skipped bool, err error) {
	src := filepath.Join(t.Dir, name)
	dst := strings.TrimSuffix(src, filepath.Ext(src)) + EncodedExt

	if _, err := os.Stat(dst); err == nil {
		return true, nil
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = DefaultTranscodeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	run := t.run
	if run == nil {
		run = execRun
	}

	tmp := dst + ".part"
	out, err := run(ctx, t.FFmpeg, EncodeArgs(src, tmp, IsGreetingFile(name))...)
	if err != nil {
		os.Remove(tmp)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return false, fmt.Errorf("ffmpeg timed out after %v", timeout)
		}
		return false, fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(string(out)))
	}

	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return false, fmt.Errorf("rename encoded file: %w", err)
	}
	return false, nil
}

// Cleanup removes every encoded file from the directory and returns the
// removed names.
func (t *Transcoder) Cleanup() ([]string, error) {
	entries, err := os.ReadDir(t.Dir)
	if err != nil {
		return nil, err
	}
	var removed []string
	var errs []error
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), EncodedExt) {
			continue
		}
		if err := os.Remove(filepath.Join(t.Dir, e.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, e.Name())
	}
	return removed, errors.Join(errs...)
}

// EncodedFiles lists the .opus files currently present.
func (t *Transcoder) EncodedFiles() ([]string, error) {
	entries, err := os.ReadDir(t.Dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), EncodedExt) {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}
