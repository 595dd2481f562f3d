// Package uns transforms Unified Namespace MQTT messages into a graph: one
// node per topic segment, message attributes merged onto the leaf, and nested
// structures broken out into child attribute nodes.
package uns

import "strconv"

// SplitAttributes partitions a decoded JSON object into plain attributes,
// which merge directly onto a graph node, and composite attributes, which
// become child nodes.
//
// Scalars and lists of scalars are plain. Maps are composite under their own
// key. A list with any non-scalar element is exploded: every element lands in
// the composite set under "<key>_<index>", except maps carrying a string
// "name" field, which use that name instead. The split is not recursive; the
// caller descends into composite values one level at a time.
func SplitAttributes(attrs map[string]any) (plain, composite map[string]any) {
	plain = map[string]any{}
	composite = map[string]any{}

	for key, val := range attrs {
		switch v := val.(type) {
		case map[string]any:
			composite[key] = v
		case []any:
			exploded := map[string]any{}
			onlyScalars := true
			for i, item := range v {
				nameKey := key + "_" + strconv.Itoa(i)
				switch it := item.(type) {
				case map[string]any:
					if name, ok := it["name"].(string); ok {
						nameKey = name
					}
					onlyScalars = false
				case []any:
					onlyScalars = false
				}
				exploded[nameKey] = item
			}
			if onlyScalars {
				plain[key] = v
			} else {
				for k, item := range exploded {
					composite[k] = item
				}
			}
		default:
			plain[key] = val
		}
	}
	return plain, composite
}
