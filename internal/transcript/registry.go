package transcript

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/attentivai/meeting-gateway/internal/capture"
)

// MicSpeakerName is the fixed identity for everything the user says.
const MicSpeakerName = "me"

// SpeakerInfo tracks one diarized participant on the system source.
type SpeakerInfo struct {
	ID             string    `json:"id"`   // Stable diarization label from the endpoint
	Name           string    `json:"name"` // Display name, user- or auto-assigned
	UtteranceCount int       `json:"utteranceCount"`
	LastSeen       time.Time `json:"lastSeen"`
	IsAutoDetected bool      `json:"isAutoDetected"`

	firstSeen int // Ordinal for stable listing
}

// Registry assigns stable display names to diarization labels. Mic
// utterances always resolve to the fixed "me" identity; system labels
// get ordinal auto-names until the user renames them. An explicit
// rename is never overwritten by later auto-resolution.
type Registry struct {
	mu       sync.Mutex
	speakers map[string]*SpeakerInfo
	now      func() time.Time
}

// NewRegistry creates an empty speaker registry.
func NewRegistry() *Registry {
	return &Registry{
		speakers: make(map[string]*SpeakerInfo),
		now:      time.Now,
	}
}

// Resolve maps a source and diarization label to a display name,
// creating an auto-detected entry on first sight and bumping usage
// stats on every subsequent one.
func (r *Registry) Resolve(source capture.Source, label string) string {
	if source == capture.SourceMic {
		return MicSpeakerName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if label == "" {
		label = "unlabeled"
	}

	info, ok := r.speakers[label]
	if !ok {
		info = &SpeakerInfo{
			ID:             label,
			Name:           fmt.Sprintf("Participant %d", len(r.speakers)+1),
			IsAutoDetected: true,
			firstSeen:      len(r.speakers),
		}
		r.speakers[label] = info
	}

	info.UtteranceCount++
	info.LastSeen = r.now()
	return info.Name
}

// Rename sets a user-chosen display name for a speaker. Renamed
// speakers stop being auto-detected, which pins the name.
func (r *Registry) Rename(id, newName string) error {
	if newName == "" {
		return fmt.Errorf("speaker name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.speakers[id]
	if !ok {
		return fmt.Errorf("unknown speaker id %q", id)
	}

	info.Name = newName
	info.IsAutoDetected = false
	return nil
}

// Speakers returns a snapshot of all known speakers in first-seen order.
func (r *Registry) Speakers() []SpeakerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := make([]SpeakerInfo, 0, len(r.speakers))
	for _, info := range r.speakers {
		snapshot = append(snapshot, *info)
	}
	sort.Slice(snapshot, func(i, j int) bool {
		return snapshot[i].firstSeen < snapshot[j].firstSeen
	})
	return snapshot
}
