package uns

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/thepwizard/unifiednamespace/errors"
)

// DefaultNodeTypes are the ISA-95 level labels applied to topic segments by
// depth.
var DefaultNodeTypes = []string{"ENTERPRISE", "FACILITY", "AREA", "LINE", "DEVICE"}

// DefaultAttributeNodeType labels child nodes created from composite message
// attributes.
const DefaultAttributeNodeType = "NESTED_ATTRIBUTE"

// maxAttributeDepth bounds attribute-node recursion, matching the codec's
// nesting limit.
const maxAttributeDepth = 64

// NodeTypeForDepth returns the label for a topic segment. Segments deeper than
// the configured levels reuse the last label with a depth suffix. An empty
// level list labels every segment with the bare suffix, starting at 1.
func NodeTypeForDepth(depth int, nodeTypes []string) string {
	if depth < len(nodeTypes) {
		return nodeTypes[depth]
	}
	base := ""
	if len(nodeTypes) > 0 {
		base = nodeTypes[len(nodeTypes)-1]
	}
	return fmt.Sprintf("%s_depth_%d", base, depth-len(nodeTypes)+1)
}

// Transformer maps topics and message bodies onto the graph store.
type Transformer struct {
	store             GraphStore
	nodeTypes         []string
	attributeNodeType string
	logger            *slog.Logger
}

// TransformerDeps carries the dependencies for NewTransformer. NodeTypes and
// AttributeNodeType fall back to the ISA-95 defaults when empty.
type TransformerDeps struct {
	Store             GraphStore
	NodeTypes         []string
	AttributeNodeType string
	Logger            *slog.Logger
}

// NewTransformer creates a Transformer.
func NewTransformer(deps TransformerDeps) (*Transformer, error) {
	if deps.Store == nil {
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: graph store is required", errors.ErrMissingConfig),
			"uns.Transformer", "NewTransformer", "dependency validation")
	}
	nodeTypes := deps.NodeTypes
	if len(nodeTypes) == 0 {
		nodeTypes = DefaultNodeTypes
	}
	attrType := deps.AttributeNodeType
	if attrType == "" {
		attrType = DefaultAttributeNodeType
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Transformer{
		store:             deps.Store,
		nodeTypes:         nodeTypes,
		attributeNodeType: attrType,
		logger:            logger,
	}, nil
}

// Persist writes one message into the graph: a node chain for the topic
// hierarchy, plain attributes merged onto the leaf, and composite attributes
// as child nodes under the leaf.
func (t *Transformer) Persist(ctx context.Context, topic string, message map[string]any, ts time.Time) error {
	if topic == "" {
		return errors.WrapInvalid(errors.ErrEmptyTopic, "uns.Transformer", "Persist", "topic validation")
	}
	segments := strings.Split(topic, "/")
	for _, s := range segments {
		if s == "" {
			return errors.WrapInvalid(
				fmt.Errorf("%w: %q has an empty segment", errors.ErrTopicFormat, topic),
				"uns.Transformer", "Persist", "topic validation")
		}
	}

	plain, composite := SplitAttributes(message)

	parentID := ""
	for depth, name := range segments {
		var attrs map[string]any
		if depth == len(segments)-1 {
			attrs = plain
		}
		label := NodeTypeForDepth(depth, t.nodeTypes)
		id, err := t.store.MergeNode(ctx, parentID, name, label, attrs, ts)
		if err != nil {
			return errors.Wrap(err, "uns.Transformer", "Persist", "node merge")
		}
		t.logger.Debug("merged topic node", "topic", topic, "segment", name, "label", label)
		parentID = id
	}

	return t.persistAttributeNodes(ctx, parentID, composite, ts, 0)
}

// persistAttributeNodes descends into composite attributes, creating one child
// node per entry. Maps split again one level down; scalars and scalar lists
// become a node holding just that value. Nesting deeper than maxAttributeDepth
// is rejected as invalid.
func (t *Transformer) persistAttributeNodes(ctx context.Context, parentID string, composite map[string]any, ts time.Time, depth int) error {
	if depth >= maxAttributeDepth {
		return errors.WrapInvalid(
			fmt.Errorf("%w: attribute nesting deeper than %d levels", errors.ErrDepthExceeded, maxAttributeDepth),
			"uns.Transformer", "persistAttributeNodes", "depth check")
	}
	for key, val := range composite {
		var plain, nested map[string]any
		switch v := val.(type) {
		case map[string]any:
			plain, nested = SplitAttributes(v)
		case nil:
			plain = map[string]any{}
		default:
			// Scalar or list element promoted out of a mixed list.
			plain = map[string]any{"value": val}
		}

		id, err := t.store.MergeNode(ctx, parentID, key, t.attributeNodeType, plain, ts)
		if err != nil {
			return errors.Wrap(err, "uns.Transformer", "persistAttributeNodes", "attribute node merge")
		}
		if len(nested) > 0 {
			if err := t.persistAttributeNodes(ctx, id, nested, ts, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}
