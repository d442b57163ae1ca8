package capture

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/attentivai/meeting-gateway/internal/audio"
	"github.com/attentivai/meeting-gateway/internal/observability"
)

// AdapterConfig holds per-adapter capture parameters.
type AdapterConfig struct {
	Source           Source
	FrameSamples     int           // Samples per frame (~256ms at 16kHz)
	BufferSize       int           // Ring buffer size in bytes
	WatchdogInterval time.Duration // No frames for this long declares the adapter ended
	Silence          *audio.SilenceMeterConfig
}

// Adapter supervises one audio source. It reads raw PCM from its device,
// reassembles fixed-size frames with monotonic sequence numbers, and
// tracks near-silence diagnostics. The adapter never reorders or drops
// frames within its own stream.
type Adapter struct {
	config *AdapterConfig
	device Device
	logger zerolog.Logger

	frames chan Frame
	done   chan struct{}

	mu      sync.Mutex
	meter   *audio.SilenceMeter
	err     error
	started bool

	stopping  atomic.Bool
	lastFrame atomic.Int64 // Unix nanos of the last produced frame

	cancel context.CancelFunc
	reader io.ReadCloser
}

// NewAdapter creates an adapter for the given device.
func NewAdapter(device Device, cfg *AdapterConfig, logger zerolog.Logger) *Adapter {
	return &Adapter{
		config: cfg,
		device: device,
		logger: logger.With().Str("source", string(cfg.Source)).Str("device", device.Label()).Logger(),
		frames: make(chan Frame, 8),
		done:   make(chan struct{}),
		meter:  audio.NewSilenceMeter(cfg.Silence),
	}
}

// Start opens the device and begins producing frames. It fails without
// side effects if the device cannot be opened.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return fmt.Errorf("adapter for %s already started", a.config.Source)
	}
	a.started = true
	a.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)

	reader, err := a.device.Open(ctx)
	if err != nil {
		cancel()
		a.mu.Lock()
		a.started = false
		a.mu.Unlock()
		return fmt.Errorf("%w: %s: %v", ErrNoSourceAvailable, a.device.Label(), err)
	}

	a.cancel = cancel
	a.reader = reader
	a.lastFrame.Store(time.Now().UnixNano())

	go a.readLoop(ctx)
	if a.config.WatchdogInterval > 0 {
		go a.watchdog(ctx)
	}

	a.logger.Info().Msg("Capture adapter started")
	return nil
}

// Frames returns the adapter's frame stream. The channel is closed when
// the adapter terminates, cleanly or not.
func (a *Adapter) Frames() <-chan Frame {
	return a.frames
}

// Done is closed once the adapter has fully terminated.
func (a *Adapter) Done() <-chan struct{} {
	return a.done
}

// Err reports why the adapter terminated. It is nil after a requested
// Stop and ErrAdapterEnded (possibly wrapped) after an unexpected end.
// Only valid after Done is closed.
func (a *Adapter) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// SilentFraction reports the fraction of recent frames under the
// amplitude threshold, for health monitoring.
func (a *Adapter) SilentFraction() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.meter.Fraction()
}

// Stop requests shutdown and waits for the read loop to exit. Safe to
// call multiple times.
func (a *Adapter) Stop() {
	if a.stopping.Swap(true) {
		<-a.done
		return
	}

	a.mu.Lock()
	started := a.started
	a.mu.Unlock()
	if !started {
		close(a.done)
		return
	}

	// Closing the reader unblocks a pending device read.
	if a.reader != nil {
		_ = a.reader.Close()
	}
	if a.cancel != nil {
		a.cancel()
	}
	<-a.done
	a.logger.Info().Msg("Capture adapter stopped")
}

func (a *Adapter) readLoop(ctx context.Context) {
	defer close(a.done)
	defer close(a.frames)

	frameBytes := a.config.FrameSamples * 2
	ring := audio.NewFrameBuffer(a.config.BufferSize)
	readBuf := make([]byte, frameBytes)
	frameBuf := make([]byte, frameBytes)
	var seq uint64

	for {
		n, err := a.reader.Read(readBuf)
		if n > 0 {
			if written := ring.Write(readBuf[:n]); written < n {
				a.logger.Warn().Int("dropped", n-written).Msg("Capture ring buffer full, dropping audio")
			}
		}

		for ring.ReadFrame(frameBuf) {
			samples, convErr := audio.BytesToSamples(frameBuf)
			if convErr != nil {
				// Frame size is even by construction; this cannot happen.
				continue
			}

			a.mu.Lock()
			fraction := a.meter.Observe(samples)
			a.mu.Unlock()
			observability.SetSilenceRatio(string(a.config.Source), fraction)

			frame := Frame{Source: a.config.Source, Seq: seq, Samples: samples}
			seq++
			a.lastFrame.Store(time.Now().UnixNano())

			select {
			case a.frames <- frame:
				observability.RecordFrame(string(a.config.Source), int64(len(frameBuf)))
			case <-ctx.Done():
				a.finish(nil)
				return
			}
		}

		if err != nil {
			if a.stopping.Load() || ctx.Err() != nil {
				a.finish(nil)
			} else if err == io.EOF {
				a.logger.Warn().Msg("Capture stream ended unexpectedly")
				a.finish(fmt.Errorf("%w: stream ended", ErrAdapterEnded))
			} else {
				a.logger.Warn().Err(err).Msg("Capture read failed")
				a.finish(fmt.Errorf("%w: %v", ErrAdapterEnded, err))
			}
			return
		}
	}
}

// watchdog declares the adapter ended when no frames have been produced
// for the configured interval, so a hung device degrades the session
// instead of stalling it.
func (a *Adapter) watchdog(ctx context.Context) {
	interval := a.config.WatchdogInterval
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			last := time.Unix(0, a.lastFrame.Load())
			if time.Since(last) > interval && !a.stopping.Load() {
				a.logger.Warn().Dur("interval", interval).Msg("Capture watchdog fired, no frames produced")
				a.mu.Lock()
				if a.err == nil {
					a.err = fmt.Errorf("%w: watchdog timeout after %s", ErrAdapterEnded, interval)
				}
				a.mu.Unlock()
				// Unblock the pending read; the loop observes the error.
				if a.reader != nil {
					_ = a.reader.Close()
				}
				return
			}
		case <-ctx.Done():
			return
		case <-a.done:
			return
		}
	}
}

func (a *Adapter) finish(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err == nil {
		a.err = err
	}
}
