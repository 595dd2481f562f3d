package sparkplug

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thepwizard/unifiednamespace/errors"
)

func TestParseTopicNodeScoped(t *testing.T) {
	topic, err := ParseTopic("spBv1.0/plant1/NBIRTH/line4")
	require.NoError(t, err)
	assert.Equal(t, "plant1", topic.Group)
	assert.Equal(t, MessageTypeNBirth, topic.MessageType)
	assert.Equal(t, "line4", topic.EdgeNode)
	assert.Empty(t, topic.Device)
}

func TestParseTopicDeviceScoped(t *testing.T) {
	topic, err := ParseTopic("spBv1.0/plant1/DDATA/line4/press7")
	require.NoError(t, err)
	assert.Equal(t, MessageTypeDData, topic.MessageType)
	assert.Equal(t, "press7", topic.Device)
}

func TestParseTopicRejectsMalformed(t *testing.T) {
	tests := []struct {
		name  string
		topic string
	}{
		{"too few segments", "spBv1.0/plant1/NDATA"},
		{"too many segments", "spBv1.0/plant1/DDATA/line4/press7/extra"},
		{"wrong namespace", "spAv1.0/plant1/NDATA/line4"},
		{"unknown message type", "spBv1.0/plant1/NOPE/line4"},
		{"empty segment", "spBv1.0//NDATA/line4"},
		{"device verb without device", "spBv1.0/plant1/DDATA/line4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTopic(tt.topic)
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestParseTopicEmpty(t *testing.T) {
	_, err := ParseTopic("")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrEmptyTopic)
}

func TestTopicString(t *testing.T) {
	for _, raw := range []string{
		"spBv1.0/plant1/NDATA/line4",
		"spBv1.0/plant1/DBIRTH/line4/press7",
	} {
		topic, err := ParseTopic(raw)
		require.NoError(t, err)
		assert.Equal(t, raw, topic.String())
	}
}
