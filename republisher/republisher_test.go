package republisher

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thepwizard/unifiednamespace/errors"
	"github.com/thepwizard/unifiednamespace/sparkplug"
)

type fakePublisher struct {
	published []publishedMessage
	err       error
}

type publishedMessage struct {
	topic   string
	payload []byte
}

func (f *fakePublisher) Publish(_ context.Context, topic string, payload []byte) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, publishedMessage{topic: topic, payload: payload})
	return nil
}

func newTestRepublisher(t *testing.T) (*Republisher, *fakePublisher) {
	t.Helper()
	pub := &fakePublisher{}
	r, err := New(Deps{Publisher: pub})
	require.NoError(t, err)
	return r, pub
}

func marshalPayload(t *testing.T, p *sparkplug.Payload) []byte {
	t.Helper()
	b, err := p.MarshalBinary()
	require.NoError(t, err)
	return b
}

func decodeDoc(t *testing.T, payload []byte) map[string]any {
	t.Helper()
	var doc map[string]any
	require.NoError(t, json.Unmarshal(payload, &doc))
	return doc
}

func TestHandleRepublishesData(t *testing.T) {
	r, pub := newTestRepublisher(t)

	seq := uint64(1)
	payload := &sparkplug.Payload{
		Timestamp: 1671554024644,
		Seq:       &seq,
		Metrics: []sparkplug.Metric{
			{Name: "Temperature", DataType: sparkplug.DataTypeDouble, Value: sparkplug.DoubleValue(21.5)},
			{Name: "Running", DataType: sparkplug.DataTypeBoolean, Value: sparkplug.BooleanValue(true)},
		},
	}

	err := r.Handle(context.Background(), "spBv1.0/plant1/NDATA/line4", marshalPayload(t, payload))
	require.NoError(t, err)

	require.Len(t, pub.published, 1)
	assert.Equal(t, "plant1/NDATA/line4", pub.published[0].topic)

	doc := decodeDoc(t, pub.published[0].payload)
	assert.Equal(t, 21.5, doc["Temperature"])
	assert.Equal(t, true, doc["Running"])
	assert.Equal(t, float64(1671554024644), doc["timestamp"])
}

func TestHandleMetricNameExtendsTopic(t *testing.T) {
	r, pub := newTestRepublisher(t)

	payload := &sparkplug.Payload{
		Timestamp: 1000,
		Metrics: []sparkplug.Metric{
			{Name: "press/cell1/Temperature", DataType: sparkplug.DataTypeInt32, Value: sparkplug.Int32Value(-40)},
		},
	}

	err := r.Handle(context.Background(), "spBv1.0/plant1/DDATA/line4/press7", marshalPayload(t, payload))
	require.NoError(t, err)

	require.Len(t, pub.published, 1)
	assert.Equal(t, "plant1/DDATA/line4/press7/press/cell1", pub.published[0].topic)
	doc := decodeDoc(t, pub.published[0].payload)
	assert.Equal(t, float64(-40), doc["Temperature"])
}

func TestHandleGroupsMetricsByDerivedTopic(t *testing.T) {
	r, pub := newTestRepublisher(t)

	payload := &sparkplug.Payload{
		Timestamp: 1000,
		Metrics: []sparkplug.Metric{
			{Name: "zone1/temp", DataType: sparkplug.DataTypeInt32, Value: sparkplug.Int32Value(1)},
			{Name: "zone1/humidity", DataType: sparkplug.DataTypeInt32, Value: sparkplug.Int32Value(2)},
			{Name: "zone2/temp", DataType: sparkplug.DataTypeInt32, Value: sparkplug.Int32Value(3)},
		},
	}

	err := r.Handle(context.Background(), "spBv1.0/g/NDATA/e", marshalPayload(t, payload))
	require.NoError(t, err)

	require.Len(t, pub.published, 2)
	assert.Equal(t, "g/NDATA/e/zone1", pub.published[0].topic)
	doc := decodeDoc(t, pub.published[0].payload)
	assert.Equal(t, float64(1), doc["temp"])
	assert.Equal(t, float64(2), doc["humidity"])
	assert.Equal(t, "g/NDATA/e/zone2", pub.published[1].topic)
}

func TestHandleLearnsAliasesFromBirth(t *testing.T) {
	r, pub := newTestRepublisher(t)
	alias := uint64(7)

	birth := &sparkplug.Payload{
		Timestamp: 1000,
		Metrics: []sparkplug.Metric{
			{Name: "Temperature", Alias: &alias, DataType: sparkplug.DataTypeDouble, Value: sparkplug.DoubleValue(20)},
		},
	}
	require.NoError(t, r.Handle(context.Background(), "spBv1.0/g/NBIRTH/e", marshalPayload(t, birth)))

	data := &sparkplug.Payload{
		Timestamp: 2000,
		Metrics: []sparkplug.Metric{
			{Alias: &alias, DataType: sparkplug.DataTypeDouble, Value: sparkplug.DoubleValue(21)},
		},
	}
	require.NoError(t, r.Handle(context.Background(), "spBv1.0/g/NDATA/e", marshalPayload(t, data)))

	require.Len(t, pub.published, 2)
	doc := decodeDoc(t, pub.published[1].payload)
	assert.Equal(t, float64(21), doc["Temperature"])
}

func TestHandleSkipsBdSeqMetric(t *testing.T) {
	r, pub := newTestRepublisher(t)

	s := sparkplug.NewSequencer()
	birth := s.NodeBirthPayload([]sparkplug.Metric{
		{Name: "Temperature", DataType: sparkplug.DataTypeDouble, Value: sparkplug.DoubleValue(20)},
	})

	require.NoError(t, r.Handle(context.Background(), "spBv1.0/g/NBIRTH/e", marshalPayload(t, birth)))

	require.Len(t, pub.published, 1)
	doc := decodeDoc(t, pub.published[0].payload)
	_, hasBdSeq := doc["bdSeq"]
	assert.False(t, hasBdSeq)
	assert.Contains(t, doc, "Temperature")
}

func TestHandleIgnoresDeathMessages(t *testing.T) {
	r, pub := newTestRepublisher(t)

	s := sparkplug.NewSequencer()
	death := s.NodeDeathPayload()
	require.NoError(t, r.Handle(context.Background(), "spBv1.0/g/NDEATH/e", marshalPayload(t, death)))
	assert.Empty(t, pub.published)
}

func TestHandleRejectsMalformedTopic(t *testing.T) {
	r, pub := newTestRepublisher(t)

	err := r.Handle(context.Background(), "spBv1.0/g/NDATA/e/d/extra", nil)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.Empty(t, pub.published)
}

func TestHandleRejectsBadPayload(t *testing.T) {
	r, _ := newTestRepublisher(t)

	err := r.Handle(context.Background(), "spBv1.0/g/NDATA/e", []byte{0xFF, 0xFF, 0xFF})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestHandleNullMetric(t *testing.T) {
	r, pub := newTestRepublisher(t)

	payload := &sparkplug.Payload{
		Timestamp: 1000,
		Metrics: []sparkplug.Metric{
			{Name: "gone", DataType: sparkplug.DataTypeInt32, IsNull: true},
		},
	}
	require.NoError(t, r.Handle(context.Background(), "spBv1.0/g/NDATA/e", marshalPayload(t, payload)))

	require.Len(t, pub.published, 1)
	doc := decodeDoc(t, pub.published[0].payload)
	val, present := doc["gone"]
	assert.True(t, present)
	assert.Nil(t, val)
}

func TestNewRequiresPublisher(t *testing.T) {
	_, err := New(Deps{})
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}
