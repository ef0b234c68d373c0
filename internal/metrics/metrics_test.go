package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/zsiec/playout/internal/avsync"
	"github.com/zsiec/playout/internal/codec"
	"github.com/zsiec/playout/internal/playout"
	"github.com/zsiec/playout/internal/session"
	"github.com/zsiec/playout/internal/wire"
)

func fixedSource() StatsSource {
	return func() []session.Stats {
		return []session.Stats{
			{
				ID:            "cam1",
				State:         session.StateStreaming,
				BytesReceived: 4096,
				DecodeErrors:  2,
				Decoder:       codec.DecoderStats{TotalFrames: 30, DroppedFrames: 1},
				Queue:         playout.QueueStats{CurrentPackets: 3, TotalOverflows: 5},
				Sync:          avsync.Stats{Rendered: 25, Delayed: 3, Skipped: 2},
				Reassembly:    &wire.ReassemblyStats{Evicted: 1},
			},
			{
				ID:    "cam2",
				State: session.StateClosed,
			},
		}
	}
}

func TestCollectorValues(t *testing.T) {
	t.Parallel()

	c := NewCollector(fixedSource())

	expected := `
# HELP playout_sessions Number of configured sessions.
# TYPE playout_sessions gauge
playout_sessions 2
# HELP playout_session_streaming Whether the session is streaming (1) or not (0).
# TYPE playout_session_streaming gauge
playout_session_streaming{stream="cam1"} 1
playout_session_streaming{stream="cam2"} 0
# HELP playout_decode_errors_total Packets that failed to decode.
# TYPE playout_decode_errors_total counter
playout_decode_errors_total{stream="cam1"} 2
playout_decode_errors_total{stream="cam2"} 0
# HELP playout_queue_overflows_total Packets evicted from a full playout queue.
# TYPE playout_queue_overflows_total counter
playout_queue_overflows_total{stream="cam1"} 5
playout_queue_overflows_total{stream="cam2"} 0
# HELP playout_reassembly_evicted_total Partial frames evicted before completion.
# TYPE playout_reassembly_evicted_total counter
playout_reassembly_evicted_total{stream="cam1"} 1
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"playout_sessions",
		"playout_session_streaming",
		"playout_decode_errors_total",
		"playout_queue_overflows_total",
		"playout_reassembly_evicted_total",
	)
	if err != nil {
		t.Fatal(err)
	}
}

func TestCollectorSyncOutcomes(t *testing.T) {
	t.Parallel()

	c := NewCollector(fixedSource())
	expected := `
# HELP playout_sync_frames_total Pictures handled by AV sync, by outcome.
# TYPE playout_sync_frames_total counter
playout_sync_frames_total{outcome="delayed",stream="cam1"} 3
playout_sync_frames_total{outcome="delayed",stream="cam2"} 0
playout_sync_frames_total{outcome="rendered",stream="cam1"} 25
playout_sync_frames_total{outcome="rendered",stream="cam2"} 0
playout_sync_frames_total{outcome="skipped",stream="cam1"} 2
playout_sync_frames_total{outcome="skipped",stream="cam2"} 0
playout_sync_frames_total{outcome="superseded",stream="cam1"} 0
playout_sync_frames_total{outcome="superseded",stream="cam2"} 0
`
	if err := testutil.CollectAndCompare(c, strings.NewReader(expected), "playout_sync_frames_total"); err != nil {
		t.Fatal(err)
	}
}

func TestCollectorRegisters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(NewCollector(fixedSource())); err != nil {
		t.Fatalf("Register: %v", err)
	}
	// 1 session gauge, 14 single-value series for cam1 and 13 for cam2
	// (no reassembly), and 4 sync outcomes per stream.
	if got, want := testutil.CollectAndCount(NewCollector(fixedSource())), 1+14+13+8; got != want {
		t.Errorf("series = %d, want %d", got, want)
	}
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("Gather: %v", err)
	}
}

func TestManagerSource(t *testing.T) {
	t.Parallel()

	m := session.NewManager(session.Options{})
	for _, id := range []string{"b", "a"} {
		if _, err := m.Create(session.Config{ID: id, URL: "ws://example.invalid/" + id}); err != nil {
			t.Fatal(err)
		}
	}
	stats := ManagerSource(m)()
	if len(stats) != 2 || stats[0].ID != "a" || stats[1].ID != "b" {
		t.Fatalf("stats = %+v", stats)
	}
	if stats[0].State != session.StateIdle {
		t.Errorf("state = %v, want idle", stats[0].State)
	}
}
