package audio

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// LocalFFmpegDir is checked last, relative to the working directory.
const LocalFFmpegDir = ".ffmpeg"

// FindFFmpeg locates the ffmpeg executable: the explicit override first, then
// PATH, then a copy under LocalFFmpegDir. It returns "" when none is usable.
func FindFFmpeg(override string) string {
	if override != "" {
		if isExecutableFile(override) {
			return override
		}
		if p, err := exec.LookPath(override); err == nil {
			return p
		}
	}

	names := []string{"ffmpeg"}
	if runtime.GOOS == "windows" {
		names = append(names, "ffmpeg.exe")
	}
	for _, n := range names {
		if p, err := exec.LookPath(n); err == nil {
			return p
		}
	}

	for _, n := range names {
		p := filepath.Join(LocalFFmpegDir, n)
		if isExecutableFile(p) {
			return p
		}
	}
	return ""
}

func isExecutableFile(p string) bool {
	fi, err := os.Stat(p)
	if err != nil || fi.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return fi.Mode()&0o111 != 0
}
