package stt

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/attentivai/meeting-gateway/internal/capture"
	"github.com/attentivai/meeting-gateway/internal/config"
)

// fakeTranscriber records sent audio and lets tests inject events.
type fakeTranscriber struct {
	source   capture.Source
	startErr error
	events   chan Event

	mu     sync.Mutex
	sent   int
	closed bool
}

func newFakeTranscriber(source capture.Source, startErr error) *fakeTranscriber {
	return &fakeTranscriber{
		source:   source,
		startErr: startErr,
		events:   make(chan Event, 10),
	}
}

func (f *fakeTranscriber) Start() error { return f.startErr }

func (f *fakeTranscriber) SendAudio(pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent++
	return nil
}

func (f *fakeTranscriber) Events() <-chan Event { return f.events }

func (f *fakeTranscriber) Stop() error { return nil }

func (f *fakeTranscriber) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

func (f *fakeTranscriber) IsActive() bool { return true }

func (f *fakeTranscriber) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent
}

func testRelay(fakes map[capture.Source]*fakeTranscriber) *Relay {
	r := NewRelay(&config.Config{}, zerolog.Nop())
	r.NewTranscriber = func(source capture.Source) Transcriber {
		return fakes[source]
	}
	return r
}

func testFrame(source capture.Source, seq uint64) capture.Frame {
	return capture.Frame{Source: source, Seq: seq, Samples: make([]int16, 160)}
}

func TestRelay_ForwardRoutesBySource(t *testing.T) {
	mic := newFakeTranscriber(capture.SourceMic, nil)
	system := newFakeTranscriber(capture.SourceSystem, nil)
	relay := testRelay(map[capture.Source]*fakeTranscriber{
		capture.SourceMic:    mic,
		capture.SourceSystem: system,
	})

	if err := relay.Start([]capture.Source{capture.SourceMic, capture.SourceSystem}); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	relay.Forward(testFrame(capture.SourceMic, 0))
	relay.Forward(testFrame(capture.SourceMic, 1))
	relay.Forward(testFrame(capture.SourceSystem, 0))

	if mic.sentCount() != 2 {
		t.Errorf("Expected 2 mic chunks sent, got %d", mic.sentCount())
	}
	if system.sentCount() != 1 {
		t.Errorf("Expected 1 system chunk sent, got %d", system.sentCount())
	}

	relay.Stop()
}

func TestRelay_SourceErrorDegradesOnlyThatSource(t *testing.T) {
	mic := newFakeTranscriber(capture.SourceMic, nil)
	system := newFakeTranscriber(capture.SourceSystem, nil)
	relay := testRelay(map[capture.Source]*fakeTranscriber{
		capture.SourceMic:    mic,
		capture.SourceSystem: system,
	})

	if err := relay.Start([]capture.Source{capture.SourceMic, capture.SourceSystem}); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	system.events <- Event{Source: capture.SourceSystem, Kind: EventError, Err: errors.New("boom")}

	// Wait for the error event to surface on the relay stream
	select {
	case event := <-relay.Events():
		if event.Kind != EventError || event.Source != capture.SourceSystem {
			t.Fatalf("Expected system error event, got %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for error event")
	}

	if !relay.Degraded(capture.SourceSystem) {
		t.Error("Expected system source to be degraded")
	}
	if relay.Degraded(capture.SourceMic) {
		t.Error("Expected mic source to remain healthy")
	}

	// Frames for the degraded source are dropped; mic continues
	relay.Forward(testFrame(capture.SourceSystem, 0))
	relay.Forward(testFrame(capture.SourceMic, 0))

	if system.sentCount() != 0 {
		t.Errorf("Expected 0 chunks sent to degraded source, got %d", system.sentCount())
	}
	if mic.sentCount() != 1 {
		t.Errorf("Expected 1 mic chunk sent, got %d", mic.sentCount())
	}

	relay.Stop()
}

func TestRelay_StartFailureDegradesSource(t *testing.T) {
	mic := newFakeTranscriber(capture.SourceMic, nil)
	system := newFakeTranscriber(capture.SourceSystem, errors.New("connect refused"))
	relay := testRelay(map[capture.Source]*fakeTranscriber{
		capture.SourceMic:    mic,
		capture.SourceSystem: system,
	})

	if err := relay.Start([]capture.Source{capture.SourceMic, capture.SourceSystem}); err != nil {
		t.Fatalf("Start() should tolerate one failed source, got %v", err)
	}

	if !relay.Degraded(capture.SourceSystem) {
		t.Error("Expected system source to be degraded after start failure")
	}

	select {
	case event := <-relay.Events():
		if event.Kind != EventError {
			t.Errorf("Expected error event for failed start, got %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for start error event")
	}

	relay.Stop()
}

func TestRelay_AllSourcesFailed(t *testing.T) {
	mic := newFakeTranscriber(capture.SourceMic, errors.New("down"))
	system := newFakeTranscriber(capture.SourceSystem, errors.New("down"))
	relay := testRelay(map[capture.Source]*fakeTranscriber{
		capture.SourceMic:    mic,
		capture.SourceSystem: system,
	})

	err := relay.Start([]capture.Source{capture.SourceMic, capture.SourceSystem})
	if !errors.Is(err, ErrAllSourcesDegraded) {
		t.Errorf("Expected ErrAllSourcesDegraded, got %v", err)
	}
}

func TestRelay_PartialAndFinalEventsPassThrough(t *testing.T) {
	mic := newFakeTranscriber(capture.SourceMic, nil)
	relay := testRelay(map[capture.Source]*fakeTranscriber{capture.SourceMic: mic})

	if err := relay.Start([]capture.Source{capture.SourceMic}); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	mic.events <- Event{Source: capture.SourceMic, Kind: EventPartial, Text: "hel"}
	mic.events <- Event{Source: capture.SourceMic, Kind: EventFinal, Text: "hello", SpeakerLabel: "0"}

	got := make([]Event, 0, 2)
	timeout := time.After(time.Second)
	for len(got) < 2 {
		select {
		case event := <-relay.Events():
			got = append(got, event)
		case <-timeout:
			t.Fatalf("Timed out, got %d events", len(got))
		}
	}

	if got[0].Kind != EventPartial || got[0].Text != "hel" {
		t.Errorf("Expected partial 'hel' first, got %+v", got[0])
	}
	if got[1].Kind != EventFinal || got[1].Text != "hello" || got[1].SpeakerLabel != "0" {
		t.Errorf("Expected final 'hello' with label '0', got %+v", got[1])
	}

	relay.Stop()
}

func TestTranscriberEmitAfterCloseIsDropped(t *testing.T) {
	d := NewDeepgramTranscriber(&config.Config{}, capture.SourceMic, zerolog.Nop())

	if err := d.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// A straggling SDK callback after shutdown must be dropped, not
	// panic on the closed channel.
	d.emit(Event{Source: capture.SourceMic, Kind: EventFinal, Text: "late"})

	if _, ok := <-d.Events(); ok {
		t.Error("Expected events channel closed after Close")
	}

	if err := d.Close(); err != nil {
		t.Fatalf("Second Close failed: %v", err)
	}
}
