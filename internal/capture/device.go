package capture

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strings"
)

// Device abstracts one openable audio input. Open returns a reader of
// raw little-endian PCM16 at the capture sample rate; closing the reader
// terminates capture.
type Device interface {
	// Label is a human-readable identifier for logging and diagnostics.
	Label() string

	// Open starts the device and returns its PCM stream.
	Open(ctx context.Context) (io.ReadCloser, error)
}

// FFmpegDevice captures audio by spawning ffmpeg and reading raw PCM
// from its stdout. One process per open stream.
type FFmpegDevice struct {
	label      string
	args       []string
	sampleRate int
}

// NewMicDevice returns a device reading the default (or named)
// microphone input.
func NewMicDevice(name string, sampleRate int) *FFmpegDevice {
	var inputFormat, input string
	switch runtime.GOOS {
	case "darwin":
		inputFormat = "avfoundation"
		input = ":" + name
		if name == "default" || name == "" {
			input = ":default"
		}
	case "linux":
		inputFormat = "pulse"
		input = name
		if input == "" {
			input = "default"
		}
	default:
		inputFormat = "dshow"
		input = "audio=" + name
	}

	return &FFmpegDevice{
		label: "mic:" + name,
		args: []string{
			"-hide_banner", "-loglevel", "error",
			"-f", inputFormat,
			"-i", input,
			"-ac", "1",
			"-ar", fmt.Sprintf("%d", sampleRate),
			"-f", "s16le",
			"pipe:1",
		},
		sampleRate: sampleRate,
	}
}

// NewLoopbackDevice returns a device reading a system-audio loopback
// target (e.g. a PulseAudio monitor source).
func NewLoopbackDevice(target string, sampleRate int) *FFmpegDevice {
	inputFormat := "pulse"
	if runtime.GOOS == "darwin" {
		// macOS has no native loopback; the target must be a virtual
		// device (BlackHole, Loopback.app) exposed through avfoundation.
		inputFormat = "avfoundation"
		target = ":" + target
	}

	return &FFmpegDevice{
		label: "system:" + target,
		args: []string{
			"-hide_banner", "-loglevel", "error",
			"-f", inputFormat,
			"-i", target,
			"-ac", "1",
			"-ar", fmt.Sprintf("%d", sampleRate),
			"-f", "s16le",
			"pipe:1",
		},
		sampleRate: sampleRate,
	}
}

// Label implements Device.
func (d *FFmpegDevice) Label() string {
	return d.label
}

// Open implements Device. The returned ReadCloser kills the ffmpeg
// process on Close.
func (d *FFmpegDevice) Open(ctx context.Context) (io.ReadCloser, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", d.args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting ffmpeg for %s: %w", d.label, err)
	}

	return &processReader{reader: stdout, cmd: cmd}, nil
}

// processReader couples a process's stdout with its lifetime.
type processReader struct {
	reader io.ReadCloser
	cmd    *exec.Cmd
}

func (p *processReader) Read(b []byte) (int, error) {
	return p.reader.Read(b)
}

func (p *processReader) Close() error {
	p.reader.Close()
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	return p.cmd.Wait()
}

// ListLoopbackTargets enumerates system-audio capture targets. An empty
// slice means no loopback is available on this machine.
func ListLoopbackTargets(ctx context.Context) ([]string, error) {
	if runtime.GOOS != "linux" {
		// No portable enumeration outside PulseAudio; callers fall back
		// to an explicitly configured target.
		return nil, nil
	}

	out, err := exec.CommandContext(ctx, "pactl", "list", "short", "sources").Output()
	if err != nil {
		return nil, fmt.Errorf("enumerating pulse sources: %w", err)
	}

	var targets []string
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		if strings.HasSuffix(fields[1], ".monitor") {
			targets = append(targets, fields[1])
		}
	}
	return targets, nil
}
