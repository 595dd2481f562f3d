package sparkplug

import (
	"fmt"
	"strings"

	"github.com/thepwizard/unifiednamespace/errors"
)

// Namespace is the topic prefix identifying Sparkplug B traffic.
const Namespace = "spBv1.0"

// MessageType is the Sparkplug verb in the topic's third segment.
type MessageType string

const (
	MessageTypeNBirth MessageType = "NBIRTH"
	MessageTypeNDeath MessageType = "NDEATH"
	MessageTypeNData  MessageType = "NDATA"
	MessageTypeNCmd   MessageType = "NCMD"
	MessageTypeDBirth MessageType = "DBIRTH"
	MessageTypeDDeath MessageType = "DDEATH"
	MessageTypeDData  MessageType = "DDATA"
	MessageTypeDCmd   MessageType = "DCMD"
	MessageTypeState  MessageType = "STATE"
)

var validMessageTypes = map[MessageType]bool{
	MessageTypeNBirth: true,
	MessageTypeNDeath: true,
	MessageTypeNData:  true,
	MessageTypeNCmd:   true,
	MessageTypeDBirth: true,
	MessageTypeDDeath: true,
	MessageTypeDData:  true,
	MessageTypeDCmd:   true,
	MessageTypeState:  true,
}

// IsDeviceScoped reports whether the verb addresses a device under the edge
// node, which makes the fifth topic segment mandatory.
func (mt MessageType) IsDeviceScoped() bool {
	switch mt {
	case MessageTypeDBirth, MessageTypeDDeath, MessageTypeDData, MessageTypeDCmd:
		return true
	}
	return false
}

// Topic is a parsed Sparkplug B topic:
// spBv1.0/<group>/<message_type>/<edge_node>[/<device>].
type Topic struct {
	Group       string
	MessageType MessageType
	EdgeNode    string
	// Device is empty for node-scoped messages.
	Device string
}

// String reassembles the topic in wire form.
func (t Topic) String() string {
	if t.Device == "" {
		return strings.Join([]string{Namespace, t.Group, string(t.MessageType), t.EdgeNode}, "/")
	}
	return strings.Join([]string{Namespace, t.Group, string(t.MessageType), t.EdgeNode, t.Device}, "/")
}

// ParseTopic validates and splits a Sparkplug B topic. Topics must carry the
// spBv1.0 namespace, exactly 4 or 5 segments, a known message type, and no
// empty segments.
func ParseTopic(topic string) (Topic, error) {
	bad := func(detail string) (Topic, error) {
		return Topic{}, errors.WrapInvalid(
			fmt.Errorf("%w: %q: %s", errors.ErrTopicFormat, topic, detail),
			"sparkplug", "ParseTopic", "topic validation")
	}

	if topic == "" {
		return Topic{}, errors.WrapInvalid(errors.ErrEmptyTopic, "sparkplug", "ParseTopic", "topic validation")
	}

	segments := strings.Split(topic, "/")
	if len(segments) != 4 && len(segments) != 5 {
		return bad(fmt.Sprintf("%d segments, want 4 or 5", len(segments)))
	}
	for _, s := range segments {
		if s == "" {
			return bad("empty segment")
		}
	}
	if segments[0] != Namespace {
		return bad(fmt.Sprintf("namespace %q, want %s", segments[0], Namespace))
	}

	mt := MessageType(segments[2])
	if !validMessageTypes[mt] {
		return bad(fmt.Sprintf("unknown message type %q", segments[2]))
	}

	t := Topic{
		Group:       segments[1],
		MessageType: mt,
		EdgeNode:    segments[3],
	}
	if len(segments) == 5 {
		t.Device = segments[4]
	} else if mt.IsDeviceScoped() {
		return bad(fmt.Sprintf("%s requires a device segment", mt))
	}
	return t, nil
}
