// Package republisher mirrors Sparkplug B traffic into the UNS JSON namespace.
// Birth and data payloads are decoded, rebuilt as JSON documents keyed by
// metric name, and published on the topic derived from the Sparkplug address.
// Death, command and state messages carry no process data and are skipped.
package republisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/thepwizard/unifiednamespace/errors"
	"github.com/thepwizard/unifiednamespace/sparkplug"
)

// Publisher is the outbound MQTT surface the republisher writes to.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Republisher decodes Sparkplug payloads and republishes them as JSON.
type Republisher struct {
	publisher Publisher
	logger    *slog.Logger
	// aliases caches alias to metric name mappings announced in birth
	// payloads, per edge node address.
	aliases map[string]map[uint64]string
}

// Deps carries the dependencies for New.
type Deps struct {
	Publisher Publisher
	Logger    *slog.Logger
}

// New creates a Republisher.
func New(deps Deps) (*Republisher, error) {
	if deps.Publisher == nil {
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: publisher is required", errors.ErrMissingConfig),
			"republisher.Republisher", "New", "dependency validation")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Republisher{
		publisher: deps.Publisher,
		logger:    logger,
		aliases:   map[string]map[uint64]string{},
	}, nil
}

// Handle processes one Sparkplug message: validates the topic, decodes the
// payload, and republishes the rebuilt documents. Malformed topics and
// payloads return invalid-classified errors; the caller logs and drops.
func (r *Republisher) Handle(ctx context.Context, rawTopic string, payload []byte) error {
	topic, err := sparkplug.ParseTopic(rawTopic)
	if err != nil {
		return err
	}

	switch topic.MessageType {
	case sparkplug.MessageTypeNBirth, sparkplug.MessageTypeDBirth,
		sparkplug.MessageTypeNData, sparkplug.MessageTypeDData:
	default:
		r.logger.Debug("skipping non-data sparkplug message", "topic", rawTopic, "type", string(topic.MessageType))
		return nil
	}

	p, err := sparkplug.DecodePayload(payload)
	if err != nil {
		return err
	}

	isBirth := topic.MessageType == sparkplug.MessageTypeNBirth || topic.MessageType == sparkplug.MessageTypeDBirth

	// One outbound document per derived topic; metrics sharing a topic merge.
	docs := map[string]map[string]any{}
	var order []string

	for i := range p.Metrics {
		m := &p.Metrics[i]
		name := r.resolveName(topic, m, isBirth)
		if name == "" {
			r.logger.Warn("dropping metric with no name or known alias", "topic", rawTopic)
			continue
		}
		if name == sparkplug.BdSeqMetricName {
			continue
		}

		subTopic, tag := splitMetricName(name)
		outTopic := deriveTopic(topic, subTopic)

		doc, ok := docs[outTopic]
		if !ok {
			doc = map[string]any{}
			docs[outTopic] = doc
			order = append(order, outTopic)
		}
		doc[tag] = metricJSONValue(m)
		doc["timestamp"] = metricTimestamp(m, p)
	}

	for _, outTopic := range order {
		body, err := json.Marshal(docs[outTopic])
		if err != nil {
			return errors.WrapInvalid(err, "republisher.Republisher", "Handle", "document serialization")
		}
		if err := r.publisher.Publish(ctx, outTopic, body); err != nil {
			return errors.Wrap(err, "republisher.Republisher", "Handle", "publish")
		}
		r.logger.Debug("republished sparkplug metrics", "from", rawTopic, "to", outTopic)
	}
	return nil
}

// resolveName returns the metric name, learning or consulting the alias cache.
func (r *Republisher) resolveName(topic sparkplug.Topic, m *sparkplug.Metric, isBirth bool) string {
	key := topic.Group + "/" + topic.EdgeNode + "/" + topic.Device
	if isBirth && m.Name != "" && m.Alias != nil {
		cache, ok := r.aliases[key]
		if !ok {
			cache = map[uint64]string{}
			r.aliases[key] = cache
		}
		cache[*m.Alias] = m.Name
	}
	if m.Name != "" {
		return m.Name
	}
	if m.Alias != nil {
		return r.aliases[key][*m.Alias]
	}
	return ""
}

// splitMetricName divides a metric name at its last slash into a topic
// extension and the final tag key.
func splitMetricName(name string) (subTopic, tag string) {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

// deriveTopic mirrors the Sparkplug address into the UNS namespace.
func deriveTopic(topic sparkplug.Topic, subTopic string) string {
	parts := []string{topic.Group, string(topic.MessageType), topic.EdgeNode}
	if topic.Device != "" {
		parts = append(parts, topic.Device)
	}
	if subTopic != "" {
		parts = append(parts, subTopic)
	}
	return strings.Join(parts, "/")
}

func metricTimestamp(m *sparkplug.Metric, p *sparkplug.Payload) uint64 {
	if m.Timestamp != 0 {
		return m.Timestamp
	}
	return p.Timestamp
}

// metricJSONValue converts a decoded metric value into its JSON shape.
func metricJSONValue(m *sparkplug.Metric) any {
	if m.IsNull || m.Value == nil {
		return nil
	}
	return valueToJSON(m.Value)
}

func valueToJSON(v sparkplug.Value) any {
	switch val := v.(type) {
	case sparkplug.Int8Value:
		return int64(val)
	case sparkplug.Int16Value:
		return int64(val)
	case sparkplug.Int32Value:
		return int64(val)
	case sparkplug.Int64Value:
		return int64(val)
	case sparkplug.UInt8Value:
		return uint64(val)
	case sparkplug.UInt16Value:
		return uint64(val)
	case sparkplug.UInt32Value:
		return uint64(val)
	case sparkplug.UInt64Value:
		return uint64(val)
	case sparkplug.FloatValue:
		return float32(val)
	case sparkplug.DoubleValue:
		return float64(val)
	case sparkplug.BooleanValue:
		return bool(val)
	case sparkplug.StringValue:
		return string(val)
	case sparkplug.TextValue:
		return string(val)
	case sparkplug.UUIDValue:
		return string(val)
	case sparkplug.DateTimeValue:
		return time.UnixMilli(int64(val)).UTC().Format(time.RFC3339Nano)
	case sparkplug.BytesValue:
		return []byte(val)
	case sparkplug.FileValue:
		return []byte(val)
	case sparkplug.Int8ArrayValue:
		return val
	case sparkplug.Int16ArrayValue:
		return val
	case sparkplug.Int32ArrayValue:
		return val
	case sparkplug.Int64ArrayValue:
		return val
	case sparkplug.UInt8ArrayValue:
		return []uint8(val)
	case sparkplug.UInt16ArrayValue:
		return val
	case sparkplug.UInt32ArrayValue:
		return val
	case sparkplug.UInt64ArrayValue:
		return val
	case sparkplug.FloatArrayValue:
		return val
	case sparkplug.DoubleArrayValue:
		return val
	case sparkplug.BooleanArrayValue:
		return val
	case sparkplug.StringArrayValue:
		return val
	case sparkplug.DateTimeArrayValue:
		out := make([]string, len(val))
		for i, ms := range val {
			out[i] = time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
		}
		return out
	case sparkplug.DataSetValue:
		return dataSetToJSON(val.DataSet)
	case sparkplug.TemplateValue:
		return templateToJSON(val.Template)
	case sparkplug.PropertySetValue:
		return propertySetToJSON(val.PropertySet)
	case sparkplug.PropertySetListValue:
		out := make([]any, len(val.PropertySets))
		for i, ps := range val.PropertySets {
			out[i] = propertySetToJSON(ps)
		}
		return out
	default:
		return nil
	}
}

func dataSetToJSON(ds *sparkplug.DataSet) any {
	if ds == nil {
		return nil
	}
	rows := make([][]any, len(ds.Rows))
	for i, row := range ds.Rows {
		cells := make([]any, len(row))
		for j, cell := range row {
			if cell != nil {
				cells[j] = valueToJSON(cell)
			}
		}
		rows[i] = cells
	}
	types := make([]string, len(ds.Types))
	for i, t := range ds.Types {
		types[i] = t.String()
	}
	return map[string]any{
		"columns": ds.Columns,
		"types":   types,
		"rows":    rows,
	}
}

func templateToJSON(t *sparkplug.Template) any {
	if t == nil {
		return nil
	}
	metrics := map[string]any{}
	for i := range t.Metrics {
		metrics[t.Metrics[i].Name] = metricJSONValue(&t.Metrics[i])
	}
	params := map[string]any{}
	for _, p := range t.Parameters {
		if p.Value != nil {
			params[p.Name] = valueToJSON(p.Value)
		} else {
			params[p.Name] = nil
		}
	}
	out := map[string]any{"metrics": metrics}
	if t.Version != "" {
		out["version"] = t.Version
	}
	if t.TemplateRef != "" {
		out["template_ref"] = t.TemplateRef
	}
	if len(params) > 0 {
		out["parameters"] = params
	}
	return out
}

func propertySetToJSON(ps *sparkplug.PropertySet) any {
	if ps == nil {
		return nil
	}
	out := map[string]any{}
	for i, key := range ps.Keys {
		pv := ps.Values[i]
		if pv.IsNull || pv.Value == nil {
			out[key] = nil
			continue
		}
		out[key] = valueToJSON(pv.Value)
	}
	return out
}
