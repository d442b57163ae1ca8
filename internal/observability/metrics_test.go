package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCoachingOutcomesShareOneCounter(t *testing.T) {
	before := testutil.ToFloat64(coachingTips.WithLabelValues("suppressed"))

	RecordCoachingOutcome("suppressed")

	m := NewSessionMetrics("test-session")
	m.RecordCoachingEnd("suppressed")

	got := testutil.ToFloat64(coachingTips.WithLabelValues("suppressed"))
	if got != before+2 {
		t.Errorf("Coaching tips counter = %v, want %v", got, before+2)
	}
}
