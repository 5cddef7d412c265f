// /internal/audio/stream.go
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"

	"layeh.com/gopus"
)

const (
	channels   = 2
	sampleRate = 48000
	frameSize  = 960 // 20ms at 48kHz
)

// Streamer decodes assets with ffmpeg and frames them as Opus packets.
type Streamer struct {
	Locate func() string
}

// NewStreamer looks ffmpeg up on every Open so a binary installed after start
// is picked up.
func NewStreamer(override string) *Streamer {
	return &Streamer{Locate: func() string { return FindFFmpeg(override) }}
}

func (s *Streamer) Executable() string {
	if s.Locate == nil {
		return ""
	}
	return s.Locate()
}

// Open starts ffmpeg decoding path to raw PCM. The returned cleanup kills the
// process.
func (s *Streamer) Open(path string) (io.ReadCloser, func(), error) {
	bin := s.Executable()
	if bin == "" {
		return nil, nil, ErrFFmpegNotFound
	}

	cmd := exec.Command(bin,
		"-i", path,
		"-f", "s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", strconv.Itoa(channels),
		"-loglevel", "warning",
		"pipe:1",
	)

	reader, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("stdout pipe error: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("command start error: %w", err)
	}

	cleanup := func() {
		cmd.Process.Kill()
		cmd.Wait()
	}

	return reader, cleanup, nil
}

// Stream encodes PCM from pcm into Opus frames and sends them until EOF or
// stop is closed. A trailing partial frame is dropped.
func (s *Streamer) Stream(pcm io.Reader, stop <-chan struct{}, send chan<- []byte) error {
	encoder, err := gopus.NewEncoder(sampleRate, channels, gopus.Audio)
	if err != nil {
		return fmt.Errorf("encoder error: %w", err)
	}

	pcmBuf := make([]byte, frameSize*channels*2)
	intBuf := make([]int16, frameSize*channels)

	for {
		select {
		case <-stop:
			return nil
		default:
		}

		if _, err := io.ReadFull(pcm, pcmBuf); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("read error: %w", err)
		}

		DecodePCM(pcmBuf, intBuf)

		opus, err := encoder.Encode(intBuf, frameSize, len(pcmBuf))
		if err != nil {
			return fmt.Errorf("encode error: %w", err)
		}

		select {
		case send <- opus:
		case <-stop:
			return nil
		}
	}
}

// DecodePCM converts little-endian s16 bytes into samples. dst must hold
// len(src)/2 values.
func DecodePCM(src []byte, dst []int16) {
	for i := range dst {
		dst[i] = int16(binary.LittleEndian.Uint16(src[i*2 : i*2+2]))
	}
}
