package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thepwizard/unifiednamespace/component"
	"github.com/thepwizard/unifiednamespace/config"
	"github.com/thepwizard/unifiednamespace/errors"
	"github.com/thepwizard/unifiednamespace/health"
	"github.com/thepwizard/unifiednamespace/metric"
	"github.com/thepwizard/unifiednamespace/republisher"
	"github.com/thepwizard/unifiednamespace/sparkplug"
	"github.com/thepwizard/unifiednamespace/uns"
)

type capturingPublisher struct {
	topics []string
}

func (c *capturingPublisher) Publish(_ context.Context, topic string, _ []byte) error {
	c.topics = append(c.topics, topic)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		MQTT:        config.MQTTConfig{BrokerURL: "tcp://localhost:1883", QoS: 1},
		Republisher: config.RepublisherConfig{Enabled: true},
	}
}

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	p, err := NewPipeline(Deps{Config: testConfig()})
	require.NoError(t, err)
	return p
}

func TestNewPipelineRequiresConfig(t *testing.T) {
	_, err := NewPipeline(Deps{})
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestInitializeBuildsTransportAndRepublisher(t *testing.T) {
	p := newTestPipeline(t)
	require.NoError(t, p.Initialize())

	assert.Equal(t, component.StateInitialized, p.State())
	assert.NotNil(t, p.mqtt)
	assert.NotNil(t, p.republisher)
}

func TestStartRejectsUninitializedPipeline(t *testing.T) {
	p := newTestPipeline(t)
	err := p.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestHandleUNSMessagePersistsToGraph(t *testing.T) {
	p := newTestPipeline(t)
	store := uns.NewMemStore()
	transformer, err := uns.NewTransformer(uns.TransformerDeps{Store: store})
	require.NoError(t, err)
	p.transformer = transformer

	p.handleUNSMessage(context.Background(), "plant/area/line", []byte(`{"temp": 21.5}`))

	leaf := store.Find("line", "AREA")
	require.NotNil(t, leaf)
	assert.Equal(t, 21.5, leaf.Attrs["temp"])
}

func TestHandleUNSMessageDropsBadJSON(t *testing.T) {
	p := newTestPipeline(t)
	store := uns.NewMemStore()
	transformer, err := uns.NewTransformer(uns.TransformerDeps{Store: store})
	require.NoError(t, err)
	p.transformer = transformer

	p.handleUNSMessage(context.Background(), "plant/line", []byte("not json"))

	assert.Equal(t, 0, store.Len())
	assert.Equal(t, int64(1), p.errorCount.Load())
}

func TestHandleSparkplugMessageRepublishes(t *testing.T) {
	p := newTestPipeline(t)
	pub := &capturingPublisher{}
	rp, err := republisher.New(republisher.Deps{Publisher: pub})
	require.NoError(t, err)
	p.republisher = rp

	payload := &sparkplug.Payload{
		Timestamp: 1000,
		Metrics: []sparkplug.Metric{
			{Name: "temp", DataType: sparkplug.DataTypeInt32, Value: sparkplug.Int32Value(7)},
		},
	}
	raw, err := payload.MarshalBinary()
	require.NoError(t, err)

	p.handleSparkplugMessage(context.Background(), "spBv1.0/g/NDATA/e", raw)

	assert.Equal(t, []string{"g/NDATA/e"}, pub.topics)
	assert.Equal(t, int64(1), p.processed.Load())
}

func TestHandleSparkplugMessageDropsBadTopic(t *testing.T) {
	p := newTestPipeline(t)
	pub := &capturingPublisher{}
	rp, err := republisher.New(republisher.Deps{Publisher: pub})
	require.NoError(t, err)
	p.republisher = rp

	p.handleSparkplugMessage(context.Background(), "spBv1.0/too/short", nil)

	assert.Empty(t, pub.topics)
	assert.Equal(t, int64(1), p.errorCount.Load())
}

func TestPipelineDiscoverable(t *testing.T) {
	p := newTestPipeline(t)

	meta := p.Meta()
	assert.Equal(t, "unsmesh-pipeline", meta.Name)
	assert.Equal(t, "pipeline", meta.Type)

	h := p.Health()
	assert.False(t, h.Healthy) // not started
}

func TestPipelineHealthTracksMonitor(t *testing.T) {
	monitor := health.NewMonitor(nil)
	p, err := NewPipeline(Deps{
		Config:   testConfig(),
		Registry: metric.NewRegistry(),
		Monitor:  monitor,
	})
	require.NoError(t, err)

	p.state = component.StateStarted
	p.startedAt = time.Now()
	assert.True(t, p.Health().Healthy)

	monitor.Update("historian", false, "max retries exceeded")
	assert.False(t, p.Health().Healthy)
}
