// Package netstats maintains a rolling per-inbound-stream view of
// packet loss, jitter, and ordering, and exposes it to Prometheus.
//
// The rolling window and quality thresholds are new to this package;
// the shape of the thing — a small ring of recent samples, evicting
// the oldest as new samples land, classified into a qualitative
// bucket via a standalone threshold function — follows the teacher's
// connection-quality tracking in client/transport.go (Metrics,
// qualityLevel). The Prometheus export follows a different pack
// member's scrape-time Collector pattern
// (flowpbx-flowpbx/internal/metrics.Collector): one Collector queries
// every live stream at scrape time rather than pushing gauge updates
// on every frame.
package netstats

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// windowSize is the number of most recent frames a stream's rolling
// statistics are computed over, per spec §4.7.
const windowSize = 1000

// nominalInterval is the expected gap between consecutive frames from
// a healthy sender.
const nominalInterval = 20 * time.Millisecond

// Quality classifies a stream's current packet-loss ratio.
type Quality int

const (
	QualityExcellent Quality = iota // <1% loss
	QualityGood                     // <3% loss
	QualityFair                     // <10% loss
	QualityPoor                     // >=10% loss
)

func (q Quality) String() string {
	switch q {
	case QualityExcellent:
		return "excellent"
	case QualityGood:
		return "good"
	case QualityFair:
		return "fair"
	default:
		return "poor"
	}
}

// classify buckets a loss ratio into a Quality tier per spec §4.7.
func classify(lossRatio float64) Quality {
	switch {
	case lossRatio < 0.01:
		return QualityExcellent
	case lossRatio < 0.03:
		return QualityGood
	case lossRatio < 0.10:
		return QualityFair
	default:
		return QualityPoor
	}
}

type sample struct {
	valid       bool
	lost        bool
	outOfOrder  bool
	hasJitter   bool
	jitterAbsMs float64
}

// Snapshot is a point-in-time read of one stream's rolling statistics.
type Snapshot struct {
	Received    int
	Lost        int
	OutOfOrder  int
	LossRatio   float64
	JitterMs    float64
	Quality     Quality
}

// Stream accumulates statistics for frames from a single sender, as
// observed by a single recipient's inbound path.
type Stream struct {
	mu sync.Mutex

	ring [windowSize]sample
	pos  int

	received   int
	lost       int
	outOfOrder int
	jitterSum  float64
	jitterN    int

	haveLast   bool
	lastSeq    uint32
	lastAt     time.Time
}

// NewStream creates an empty rolling-statistics tracker.
func NewStream() *Stream {
	return &Stream{}
}

// RecordArrival updates the rolling window with one inbound frame.
// seq is the sender's frame sequence number; lastPlayed is the
// recipient's jitter-buffer playback cursor at arrival time, used to
// detect out-of-order arrivals per spec §4.7 ("sequence < last_played
// at arrival"). Pass the same value as seq if no playback cursor is
// available yet (e.g. before the jitter buffer has primed).
func (s *Stream) RecordArrival(seq uint32, lastPlayed uint32, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	outOfOrder := int32(seq-lastPlayed) < 0

	if !s.haveLast {
		s.push(sample{valid: true, outOfOrder: outOfOrder})
		s.haveLast = true
		s.lastSeq = seq
		s.lastAt = now
		return
	}

	diff := int32(seq - s.lastSeq)
	if diff <= 0 {
		// Retransmission, duplicate, or late/out-of-order arrival: it
		// does not advance the loss accounting, only the ordering one.
		s.push(sample{valid: true, outOfOrder: outOfOrder})
		return
	}

	// Forward progress: diff-1 frames never arrived.
	missing := int(diff) - 1
	if missing > windowSize {
		missing = windowSize // the window can't hold more than this anyway
	}
	for i := 0; i < missing; i++ {
		s.push(sample{valid: true, lost: true})
	}

	expected := s.lastAt.Add(time.Duration(diff) * nominalInterval)
	deviationMs := float64(now.Sub(expected)) / float64(time.Millisecond)
	if deviationMs < 0 {
		deviationMs = -deviationMs
	}
	s.push(sample{valid: true, outOfOrder: outOfOrder, hasJitter: true, jitterAbsMs: deviationMs})

	s.lastSeq = seq
	s.lastAt = now
}

// push evicts the sample at the write cursor (if any) from the running
// aggregates, installs the new one, and advances the cursor.
func (s *Stream) push(next sample) {
	old := s.ring[s.pos]
	if old.valid {
		if old.lost {
			s.lost--
		} else {
			s.received--
		}
		if old.outOfOrder {
			s.outOfOrder--
		}
		if old.hasJitter {
			s.jitterSum -= old.jitterAbsMs
			s.jitterN--
		}
	}

	s.ring[s.pos] = next
	s.pos = (s.pos + 1) % windowSize

	if next.lost {
		s.lost++
	} else {
		s.received++
	}
	if next.outOfOrder {
		s.outOfOrder++
	}
	if next.hasJitter {
		s.jitterSum += next.jitterAbsMs
		s.jitterN++
	}
}

// Snapshot computes the current rolling-window statistics.
func (s *Stream) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := s.received + s.lost
	var lossRatio float64
	if total > 0 {
		lossRatio = float64(s.lost) / float64(total)
	}
	var jitterMs float64
	if s.jitterN > 0 {
		jitterMs = s.jitterSum / float64(s.jitterN)
	}
	return Snapshot{
		Received:   s.received,
		Lost:       s.lost,
		OutOfOrder: s.outOfOrder,
		LossRatio:  lossRatio,
		JitterMs:   jitterMs,
		Quality:    classify(lossRatio),
	}
}

// Registry owns one Stream per sender and implements
// prometheus.Collector, gathering every live stream's statistics at
// scrape time rather than updating gauges on every frame.
type Registry struct {
	mu      sync.RWMutex
	streams map[uuid.UUID]*Stream

	lossDesc    *prometheus.Desc
	jitterDesc  *prometheus.Desc
	oorDesc     *prometheus.Desc
	qualityDesc *prometheus.Desc
}

// NewRegistry creates an empty statistics registry.
func NewRegistry() *Registry {
	return &Registry{
		streams: make(map[uuid.UUID]*Stream),
		lossDesc: prometheus.NewDesc(
			"voicecore_stream_loss_ratio",
			"Rolling packet loss ratio (0-1) over the last 1000 frames",
			[]string{"sender_id"}, nil,
		),
		jitterDesc: prometheus.NewDesc(
			"voicecore_stream_jitter_ms",
			"Rolling average absolute inter-arrival jitter in milliseconds",
			[]string{"sender_id"}, nil,
		),
		oorDesc: prometheus.NewDesc(
			"voicecore_stream_out_of_order_total",
			"Rolling out-of-order arrival count over the last 1000 frames",
			[]string{"sender_id"}, nil,
		),
		qualityDesc: prometheus.NewDesc(
			"voicecore_stream_quality",
			"Rolling quality tier: 0=excellent 1=good 2=fair 3=poor",
			[]string{"sender_id"}, nil,
		),
	}
}

// Stream returns the tracker for senderID, creating one if needed.
func (r *Registry) Stream(senderID uuid.UUID) *Stream {
	r.mu.RLock()
	s, ok := r.streams[senderID]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.streams[senderID]; ok {
		return s
	}
	s = NewStream()
	r.streams[senderID] = s
	return s
}

// Drop removes a sender's tracker, e.g. on disconnect.
func (r *Registry) Drop(senderID uuid.UUID) {
	r.mu.Lock()
	delete(r.streams, senderID)
	r.mu.Unlock()
}

// Describe implements prometheus.Collector.
func (r *Registry) Describe(ch chan<- *prometheus.Desc) {
	ch <- r.lossDesc
	ch <- r.jitterDesc
	ch <- r.oorDesc
	ch <- r.qualityDesc
}

// Collect implements prometheus.Collector.
func (r *Registry) Collect(ch chan<- prometheus.Metric) {
	r.mu.RLock()
	snapshots := make(map[uuid.UUID]Snapshot, len(r.streams))
	for id, s := range r.streams {
		snapshots[id] = s.Snapshot()
	}
	r.mu.RUnlock()

	for id, snap := range snapshots {
		label := id.String()
		ch <- prometheus.MustNewConstMetric(r.lossDesc, prometheus.GaugeValue, snap.LossRatio, label)
		ch <- prometheus.MustNewConstMetric(r.jitterDesc, prometheus.GaugeValue, snap.JitterMs, label)
		ch <- prometheus.MustNewConstMetric(r.oorDesc, prometheus.GaugeValue, float64(snap.OutOfOrder), label)
		ch <- prometheus.MustNewConstMetric(r.qualityDesc, prometheus.GaugeValue, float64(snap.Quality), label)
	}
}
