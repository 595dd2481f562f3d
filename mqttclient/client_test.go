package mqttclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thepwizard/unifiednamespace/errors"
)

func TestConfigValidation(t *testing.T) {
	cfg := Config{}
	err := cfg.validate()
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.ErrorIs(t, err, errors.ErrMissingConfig)

	cfg = Config{BrokerURL: "tcp://localhost:1883", QoS: 3}
	err = cfg.validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{BrokerURL: "tcp://localhost:1883"}
	require.NoError(t, cfg.validate())
	assert.Equal(t, "unsmesh", cfg.ClientIDPrefix)
	assert.Equal(t, 60*time.Second, cfg.KeepAlive)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
}

func TestNewClientStartsDisconnected(t *testing.T) {
	c, err := NewClient(Config{BrokerURL: "tcp://localhost:1883"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.False(t, c.IsConnected())
}

func TestStatusChangeCallback(t *testing.T) {
	var seen []ConnectionStatus
	c, err := NewClient(Config{BrokerURL: "tcp://localhost:1883"}, nil, func(s ConnectionStatus) {
		seen = append(seen, s)
	})
	require.NoError(t, err)

	c.setStatus(StatusConnecting)
	c.setStatus(StatusConnected)
	c.setStatus(StatusConnected) // no transition, no callback
	c.setStatus(StatusDisconnected)

	assert.Equal(t, []ConnectionStatus{StatusConnecting, StatusConnected, StatusDisconnected}, seen)
}

func TestSubscribeBeforeConnectIsDeferred(t *testing.T) {
	c, err := NewClient(Config{BrokerURL: "tcp://localhost:1883"}, nil, nil)
	require.NoError(t, err)

	require.NoError(t, c.Subscribe("spBv1.0/#", func(string, []byte) {}))
	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Contains(t, c.routes, "spBv1.0/#")
}

func TestConnectionStatusString(t *testing.T) {
	assert.Equal(t, "disconnected", StatusDisconnected.String())
	assert.Equal(t, "connecting", StatusConnecting.String())
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "reconnecting", StatusReconnecting.String())
	assert.Equal(t, "unknown", ConnectionStatus(42).String())
}

func TestNewClientMissingCAFile(t *testing.T) {
	_, err := NewClient(Config{
		BrokerURL:  "ssl://localhost:8883",
		TLSEnabled: true,
		TLSCAFile:  "/nonexistent/ca.pem",
	}, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}
