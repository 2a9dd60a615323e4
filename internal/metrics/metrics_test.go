package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register should tolerate duplicates: %v", err)
	}
}

func TestObserveQueryNormalisesOutcome(t *testing.T) {
	before := testutil.ToFloat64(queriesTotal.WithLabelValues("traces", OutcomeError))
	ObserveQuery("traces", "boom", -time.Second)
	after := testutil.ToFloat64(queriesTotal.WithLabelValues("traces", OutcomeError))
	if after-before != 1 {
		t.Fatalf("expected error outcome to increment by 1, got %v", after-before)
	}

	before = testutil.ToFloat64(queriesTotal.WithLabelValues("traces", OutcomeDenied))
	ObserveQuery("traces", OutcomeDenied, time.Millisecond)
	after = testutil.ToFloat64(queriesTotal.WithLabelValues("traces", OutcomeDenied))
	if after-before != 1 {
		t.Fatalf("expected denied outcome to increment by 1, got %v", after-before)
	}
}

func TestCacheAndStreamCounters(t *testing.T) {
	hits := testutil.ToFloat64(responseCacheTotal.WithLabelValues(CacheHit))
	misses := testutil.ToFloat64(responseCacheTotal.WithLabelValues(CacheMiss))
	ObserveCache(true)
	ObserveCache(false)
	ObserveCache(false)
	if got := testutil.ToFloat64(responseCacheTotal.WithLabelValues(CacheHit)) - hits; got != 1 {
		t.Fatalf("expected 1 hit, got %v", got)
	}
	if got := testutil.ToFloat64(responseCacheTotal.WithLabelValues(CacheMiss)) - misses; got != 2 {
		t.Fatalf("expected 2 misses, got %v", got)
	}

	base := testutil.ToFloat64(streamClients)
	StreamClientConnected()
	StreamClientConnected()
	StreamClientDisconnected()
	if got := testutil.ToFloat64(streamClients) - base; got != 1 {
		t.Fatalf("expected gauge delta 1, got %v", got)
	}
}
