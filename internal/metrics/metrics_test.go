package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestOrigin(t *testing.T) {
	if got := Origin(true); got != "synthetic" {
		t.Errorf("Origin(true) = %q", got)
	}
	if got := Origin(false); got != "external" {
		t.Errorf("Origin(false) = %q", got)
	}
}

func TestCollectorsRecord(t *testing.T) {
	before := testutil.ToFloat64(ReadingsPublished.WithLabelValues(Origin(true)))
	ReadingsPublished.WithLabelValues(Origin(true)).Inc()
	if got := testutil.ToFloat64(ReadingsPublished.WithLabelValues(Origin(true))); got != before+1 {
		t.Errorf("readings published = %v, want %v", got, before+1)
	}

	SourceState.Set(SourceSynthetic)
	if got := testutil.ToFloat64(SourceState); got != SourceSynthetic {
		t.Errorf("source state = %v, want %v", got, SourceSynthetic)
	}

	SinkWrites.WithLabelValues("ok").Inc()
	if n := testutil.CollectAndCount(SinkWrites); n < 1 {
		t.Errorf("sink write series = %d, want at least 1", n)
	}
}
