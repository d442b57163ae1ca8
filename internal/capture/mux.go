package capture

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/attentivai/meeting-gateway/internal/audio"
	"github.com/attentivai/meeting-gateway/internal/config"
)

// Mux supervises up to two capture adapters (mic and system loopback)
// and merges their frames onto a single outbound channel. Each adapter
// starts and fails independently; the mux only fails the session when
// zero adapters come up. Per-source frame ordering is preserved; no
// global ordering across sources is imposed.
type Mux struct {
	config *config.Config
	logger zerolog.Logger

	// MicDevice and LoopbackTargets are overridable for tests.
	MicDevice       Device
	LoopbackTargets func(ctx context.Context) ([]string, error)
	LoopbackDevice  func(target string) Device

	mu       sync.Mutex
	adapters map[Source]*Adapter

	out  chan Frame
	errs chan SourceError
	wg   sync.WaitGroup
}

// NewMux creates a capture multiplexer for one session.
func NewMux(cfg *config.Config, logger zerolog.Logger) *Mux {
	return &Mux{
		config:          cfg,
		logger:          logger,
		MicDevice:       NewMicDevice(cfg.MicDevice, cfg.SampleRate),
		LoopbackTargets: ListLoopbackTargets,
		LoopbackDevice: func(target string) Device {
			return NewLoopbackDevice(target, cfg.SampleRate)
		},
		adapters: make(map[Source]*Adapter),
		out:      make(chan Frame, 32),
		errs:     make(chan SourceError, 4),
	}
}

// StartSession attempts to start both adapters. Each start is
// independent; the returned slice lists the sources that came up.
// An error is returned only when zero adapters started.
func (m *Mux) StartSession(ctx context.Context) ([]Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var started []Source

	if adapter, err := m.startMic(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("Mic adapter failed to start")
		m.pushError(SourceError{Source: SourceMic, Err: err})
	} else {
		m.adapters[SourceMic] = adapter
		started = append(started, SourceMic)
	}

	if adapter, err := m.startSystem(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("System adapter failed to start")
		m.pushError(SourceError{Source: SourceSystem, Err: err})
	} else {
		m.adapters[SourceSystem] = adapter
		started = append(started, SourceSystem)
	}

	if len(started) == 0 {
		return nil, ErrNoSourceAvailable
	}

	for _, source := range started {
		m.wg.Add(1)
		go m.forward(ctx, m.adapters[source])
	}

	m.logger.Info().Int("adapters", len(started)).Msg("Capture session started")
	return started, nil
}

func (m *Mux) startMic(ctx context.Context) (*Adapter, error) {
	adapter := NewAdapter(m.MicDevice, m.adapterConfig(SourceMic), m.logger)
	if err := adapter.Start(ctx); err != nil {
		return nil, err
	}
	return adapter, nil
}

// startSystem first enumerates loopback targets; a configured target
// wins over enumeration. No target at all is ErrNoSourceAvailable,
// which must not prevent the mic adapter from running.
func (m *Mux) startSystem(ctx context.Context) (*Adapter, error) {
	target := m.config.SystemTarget
	if target == "" {
		targets, err := m.LoopbackTargets(ctx)
		if err != nil {
			m.logger.Warn().Err(err).Msg("Loopback target enumeration failed")
		}
		if len(targets) == 0 {
			return nil, ErrNoSourceAvailable
		}
		target = targets[0]
	}

	adapter := NewAdapter(m.LoopbackDevice(target), m.adapterConfig(SourceSystem), m.logger)
	if err := adapter.Start(ctx); err != nil {
		return nil, err
	}
	return adapter, nil
}

func (m *Mux) adapterConfig(source Source) *AdapterConfig {
	return &AdapterConfig{
		Source:           source,
		FrameSamples:     m.config.FrameSamples,
		BufferSize:       m.config.AudioBufferSize,
		WatchdogInterval: time.Duration(m.config.WatchdogInterval) * time.Second,
		Silence: &audio.SilenceMeterConfig{
			Threshold:  m.config.SilenceThreshold,
			WindowSize: m.config.SilenceWindow,
		},
	}
}

// forward copies one adapter's frames to the shared outbound channel,
// preserving that adapter's intra-source order.
func (m *Mux) forward(ctx context.Context, adapter *Adapter) {
	defer m.wg.Done()

	for frame := range adapter.Frames() {
		select {
		case m.out <- frame:
		case <-ctx.Done():
			return
		}
	}

	if err := adapter.Err(); err != nil {
		m.pushError(SourceError{Source: adapter.config.Source, Err: err})
	}
}

func (m *Mux) pushError(serr SourceError) {
	select {
	case m.errs <- serr:
	default:
		m.logger.Warn().Str("source", string(serr.Source)).Msg("Capture error channel full, dropping")
	}
}

// Frames returns the merged outbound frame channel. It is closed by
// StopSession once all adapters have stopped and the channel is drained.
func (m *Mux) Frames() <-chan Frame {
	return m.out
}

// Errors reports adapter-scoped failures (start failures and unexpected
// ends). These degrade a source; they never stop the session by
// themselves.
func (m *Mux) Errors() <-chan SourceError {
	return m.errs
}

// Live reports which sources currently have a running adapter.
func (m *Mux) Live() []Source {
	m.mu.Lock()
	defer m.mu.Unlock()

	var live []Source
	for source, adapter := range m.adapters {
		select {
		case <-adapter.Done():
		default:
			live = append(live, source)
		}
	}
	return live
}

// StopSession stops all live adapters, waits for their acknowledged
// shutdown, and drains the outbound channel so no frame is processed
// after it returns. The mux cannot be restarted; sessions build a new
// one.
func (m *Mux) StopSession() {
	m.mu.Lock()
	adapters := make([]*Adapter, 0, len(m.adapters))
	for _, adapter := range m.adapters {
		adapters = append(adapters, adapter)
	}
	m.mu.Unlock()

	for _, adapter := range adapters {
		adapter.Stop()
	}
	m.wg.Wait()

	for {
		select {
		case <-m.out:
		default:
			close(m.out)
			m.logger.Info().Msg("Capture session stopped")
			return
		}
	}
}
