// Package metrics exports session statistics as Prometheus metrics. The
// collector reads a fresh snapshot on every scrape, so nothing is
// registered per stream.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zsiec/playout/internal/session"
)

const namespace = "playout"

// StatsSource returns the current per-session snapshots.
type StatsSource func() []session.Stats

// ManagerSource adapts a session manager to a StatsSource.
func ManagerSource(m *session.Manager) StatsSource {
	return func() []session.Stats {
		list := m.List()
		out := make([]session.Stats, 0, len(list))
		for _, s := range list {
			out = append(out, s.Stats())
		}
		return out
	}
}

// Collector implements prometheus.Collector over a StatsSource.
type Collector struct {
	source StatsSource

	sessions        *prometheus.Desc
	streaming       *prometheus.Desc
	bytesReceived   *prometheus.Desc
	messages        *prometheus.Desc
	dataRate        *prometheus.Desc
	decodeErrors    *prometheus.Desc
	framesDecoded   *prometheus.Desc
	framesDropped   *prometheus.Desc
	decodeTime      *prometheus.Desc
	fps             *prometheus.Desc
	queuePackets    *prometheus.Desc
	queueBytes      *prometheus.Desc
	queueOverflows  *prometheus.Desc
	syncFrames      *prometheus.Desc
	captions        *prometheus.Desc
	reassemblyDrops *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a Collector reading from source.
func NewCollector(source StatsSource) *Collector {
	stream := []string{"stream"}
	desc := func(name, help string, labels []string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &Collector{
		source:          source,
		sessions:        desc("sessions", "Number of configured sessions.", nil),
		streaming:       desc("session_streaming", "Whether the session is streaming (1) or not (0).", stream),
		bytesReceived:   desc("received_bytes_total", "Binary payload bytes received.", stream),
		messages:        desc("received_messages_total", "Transport messages received.", stream),
		dataRate:        desc("data_rate_kibibytes", "Inbound data rate in KiB/s.", stream),
		decodeErrors:    desc("decode_errors_total", "Packets that failed to decode.", stream),
		framesDecoded:   desc("frames_decoded_total", "Pictures produced by the decoder.", stream),
		framesDropped:   desc("frames_dropped_total", "Pictures dropped for non-increasing timestamps.", stream),
		decodeTime:      desc("decode_time_ms", "Mean decode time over the recent window.", stream),
		fps:             desc("decode_fps", "Decoder output rate over the recent window.", stream),
		queuePackets:    desc("queue_packets", "Packets waiting in the playout queue.", stream),
		queueBytes:      desc("queue_bytes", "Bytes waiting in the playout queue.", stream),
		queueOverflows:  desc("queue_overflows_total", "Packets evicted from a full playout queue.", stream),
		syncFrames:      desc("sync_frames_total", "Pictures handled by AV sync, by outcome.", []string{"stream", "outcome"}),
		captions:        desc("captions_total", "Caption frames extracted.", stream),
		reassemblyDrops: desc("reassembly_evicted_total", "Partial frames evicted before completion.", stream),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.sessions, c.streaming, c.bytesReceived, c.messages, c.dataRate,
		c.decodeErrors, c.framesDecoded, c.framesDropped, c.decodeTime, c.fps,
		c.queuePackets, c.queueBytes, c.queueOverflows, c.syncFrames,
		c.captions, c.reassemblyDrops,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	all := c.source()
	ch <- prometheus.MustNewConstMetric(c.sessions, prometheus.GaugeValue, float64(len(all)))

	for _, st := range all {
		id := st.ID
		gauge := func(d *prometheus.Desc, v float64) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, id)
		}
		counter := func(d *prometheus.Desc, v int64) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), id)
		}

		streaming := 0.0
		if st.State == session.StateStreaming {
			streaming = 1
		}
		gauge(c.streaming, streaming)
		counter(c.bytesReceived, st.BytesReceived)
		counter(c.messages, st.MessagesReceived)
		gauge(c.dataRate, st.DataRate)
		counter(c.decodeErrors, st.DecodeErrors)
		counter(c.framesDecoded, st.Decoder.TotalFrames)
		counter(c.framesDropped, st.Decoder.DroppedFrames)
		gauge(c.decodeTime, st.Decoder.AvgDecodeMs)
		gauge(c.fps, st.Decoder.CurrentFPS)
		gauge(c.queuePackets, float64(st.Queue.CurrentPackets))
		gauge(c.queueBytes, float64(st.Queue.CurrentBytes))
		counter(c.queueOverflows, st.Queue.TotalOverflows)
		counter(c.captions, st.Captions)
		if st.Reassembly != nil {
			counter(c.reassemblyDrops, st.Reassembly.Evicted)
		}

		for _, o := range []struct {
			outcome string
			n       int64
		}{
			{"rendered", st.Sync.Rendered},
			{"delayed", st.Sync.Delayed},
			{"skipped", st.Sync.Skipped},
			{"superseded", st.Sync.Superseded},
		} {
			ch <- prometheus.MustNewConstMetric(c.syncFrames, prometheus.CounterValue, float64(o.n), id, o.outcome)
		}
	}
}
