package audio

// SilenceMeterConfig holds configuration for near-silence diagnostics
type SilenceMeterConfig struct {
	Threshold  float64 // RMS threshold below which a frame counts as near-silent
	WindowSize int     // Number of recent frames in the rolling window
}

// DefaultSilenceMeterConfig returns a default silence meter configuration
func DefaultSilenceMeterConfig() *SilenceMeterConfig {
	return &SilenceMeterConfig{
		Threshold:  250.0,
		WindowSize: 40, // ~10s of 256ms frames
	}
}

// SilenceMeter tracks the fraction of recent frames under an amplitude
// threshold. It is a health diagnostic only; it never alters the frame
// stream. Not safe for concurrent use: each adapter owns one meter.
type SilenceMeter struct {
	config *SilenceMeterConfig
	window []bool
	next   int
	filled int
	silent int
}

// NewSilenceMeter creates a new silence meter
func NewSilenceMeter(config *SilenceMeterConfig) *SilenceMeter {
	if config == nil {
		config = DefaultSilenceMeterConfig()
	}
	return &SilenceMeter{
		config: config,
		window: make([]bool, config.WindowSize),
	}
}

// Observe records one frame and returns the current silent fraction
// over the rolling window.
func (m *SilenceMeter) Observe(samples []int16) float64 {
	isSilent := DetectSilence(samples, m.config.Threshold)

	if m.filled == len(m.window) {
		// Window full: evict the oldest observation
		if m.window[m.next] {
			m.silent--
		}
	} else {
		m.filled++
	}

	m.window[m.next] = isSilent
	if isSilent {
		m.silent++
	}
	m.next = (m.next + 1) % len(m.window)

	return m.Fraction()
}

// Fraction returns the fraction of frames in the window that were
// near-silent. Returns 0 before any frame has been observed.
func (m *SilenceMeter) Fraction() float64 {
	if m.filled == 0 {
		return 0.0
	}
	return float64(m.silent) / float64(m.filled)
}

// Reset clears the rolling window
func (m *SilenceMeter) Reset() {
	for i := range m.window {
		m.window[i] = false
	}
	m.next = 0
	m.filled = 0
	m.silent = 0
}
