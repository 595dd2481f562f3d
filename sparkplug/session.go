package sparkplug

import "time"

// BdSeqMetricName is the well-known metric carrying the birth/death sequence
// number that pairs an NDEATH with the session it terminates.
const BdSeqMetricName = "bdSeq"

// Sequencer tracks the two independent counters of an edge-node session: the
// per-message seq and the per-session bdSeq. Both count 0-255 and wrap.
//
// A Sequencer belongs to a single publishing goroutine; it is not safe for
// concurrent use.
type Sequencer struct {
	msgSeq   int
	birthSeq int
	now      func() time.Time
}

// NewSequencer creates a session sequencer starting both counters at 0.
func NewSequencer() *Sequencer {
	return &Sequencer{msgSeq: -1, birthSeq: -1, now: time.Now}
}

// NewSequencerWithClock is NewSequencer with an injected clock for tests.
func NewSequencerWithClock(now func() time.Time) *Sequencer {
	return &Sequencer{msgSeq: -1, birthSeq: -1, now: now}
}

// NextSeq returns the next message sequence number. The first call returns 0
// and the counter wraps from 255 back to 0.
func (s *Sequencer) NextSeq() uint64 {
	s.msgSeq = (s.msgSeq + 1) % 256
	return uint64(s.msgSeq)
}

// NextBdSeq returns the next birth/death sequence number. The first call
// returns 0 and the counter wraps from 255 back to 0. It advances
// independently of NextSeq.
func (s *Sequencer) NextBdSeq() uint64 {
	s.birthSeq = (s.birthSeq + 1) % 256
	return uint64(s.birthSeq)
}

func (s *Sequencer) timestamp() uint64 {
	return uint64(s.now().UnixMilli())
}

// NodeDeathPayload builds the NDEATH payload registered as the MQTT will
// message when the session connects. It carries only the bdSeq metric, drawn
// from the birth/death counter, and no message seq.
func (s *Sequencer) NodeDeathPayload() *Payload {
	ts := s.timestamp()
	return &Payload{
		Timestamp: ts,
		Metrics: []Metric{{
			Name:      BdSeqMetricName,
			Timestamp: ts,
			DataType:  DataTypeInt64,
			Value:     Int64Value(s.NextBdSeq()),
		}},
	}
}

// NodeBirthPayload builds the NBIRTH payload announcing the session. It resets
// the message seq (the payload carries seq 0), draws a fresh bdSeq, and
// prepends the bdSeq metric to the supplied birth metrics.
func (s *Sequencer) NodeBirthPayload(metrics []Metric) *Payload {
	s.msgSeq = -1
	ts := s.timestamp()
	seq := s.NextSeq()

	all := make([]Metric, 0, len(metrics)+1)
	all = append(all, Metric{
		Name:      BdSeqMetricName,
		Timestamp: ts,
		DataType:  DataTypeInt64,
		Value:     Int64Value(s.NextBdSeq()),
	})
	all = append(all, metrics...)

	return &Payload{
		Timestamp: ts,
		Seq:       &seq,
		Metrics:   all,
	}
}

// DataPayload builds an NDATA/DDATA payload carrying the next message seq.
func (s *Sequencer) DataPayload(metrics []Metric) *Payload {
	seq := s.NextSeq()
	return &Payload{
		Timestamp: s.timestamp(),
		Seq:       &seq,
		Metrics:   metrics,
	}
}
