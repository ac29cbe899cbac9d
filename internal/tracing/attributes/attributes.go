// Package attributes normalizes namespaced span attributes and converts
// between their flat dotted form and nested maps.
package attributes

import (
	"encoding/json"
	"sort"
	"strings"
)

// Namespace is the first dotted segment of an attribute key.
type Namespace string

const (
	NamespaceData    Namespace = "data"
	NamespaceMetrics Namespace = "metrics"
	NamespaceMeta    Namespace = "meta"
	NamespaceTags    Namespace = "tags"
	NamespaceRefs    Namespace = "refs"
	NamespaceType    Namespace = "type"
	NamespaceFlags   Namespace = "flags"

	// NamespaceException holds exception.* attributes set directly on a span
	// instead of through an exception event.
	NamespaceException Namespace = "exception"
)

// Known lists the namespaces that map to structured span buckets.
var Known = []Namespace{
	NamespaceData, NamespaceMetrics, NamespaceMeta, NamespaceTags,
	NamespaceRefs, NamespaceType, NamespaceFlags, NamespaceException,
}

// IsKnown reports whether ns is one of the structured namespaces.
func IsKnown(ns Namespace) bool {
	for _, k := range Known {
		if k == ns {
			return true
		}
	}
	return false
}

// Split returns the namespace of key and the remainder after the first dot.
// A key without a dot is all namespace.
func Split(key string) (Namespace, string) {
	ns, rest, _ := strings.Cut(key, ".")
	return Namespace(ns), rest
}

// legacyKeys rewrites attribute keys emitted by older SDKs.
var legacyKeys = map[string]string{
	"refs.variant.id":          "refs.application_variant.id",
	"refs.variant.slug":        "refs.application_variant.slug",
	"refs.variant.version":     "refs.application_revision.version",
	"refs.environment.version": "refs.environment_revision.version",
}

// Normalize returns a copy of attrs with legacy keys rewritten. The rewrite is
// applied once: a rewritten key is never rewritten again. When both a legacy
// key and its replacement are present, the replacement's value wins.
func Normalize(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		if _, ok := legacyKeys[k]; ok {
			continue
		}
		out[k] = v
	}
	for k, v := range attrs {
		nk, ok := legacyKeys[k]
		if !ok {
			continue
		}
		if _, exists := out[nk]; exists {
			continue
		}
		out[nk] = v
	}
	return out
}

// Unflatten collects the attributes under ns into a nested map:
// "data.inputs.prompt" becomes {"inputs": {"prompt": ...}}. String values that
// hold a JSON object or array are decoded. A bare "data" key holding a JSON
// object is merged at the top level. Returns nil when nothing matches.
func Unflatten(ns Namespace, attrs map[string]any) map[string]any {
	prefix := string(ns) + "."
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		if k == string(ns) || strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	// Shorter keys first so deeper keys refine rather than get clobbered.
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) < len(keys[j])
		}
		return keys[i] < keys[j]
	})

	out := make(map[string]any)
	for _, k := range keys {
		v := decodeJSONString(attrs[k])
		if k == string(ns) {
			if m, ok := v.(map[string]any); ok {
				for mk, mv := range m {
					out[mk] = mv
				}
			}
			continue
		}
		setPath(out, strings.Split(strings.TrimPrefix(k, prefix), "."), v)
	}
	return out
}

// ScalarKey holds a scalar whose dotted key is also the prefix of deeper keys,
// so {"data.inputs": "raw", "data.inputs.x": 1} unflattens to
// {"inputs": {"_value": "raw", "x": 1}}. Flatten writes it back to the
// parent key.
const ScalarKey = "_value"

func setPath(m map[string]any, path []string, v any) {
	for i, seg := range path {
		if i == len(path)-1 {
			if existing, ok := m[seg].(map[string]any); ok {
				if vm, ok := v.(map[string]any); ok {
					for k, x := range vm {
						existing[k] = x
					}
				} else {
					existing[ScalarKey] = v
				}
				return
			}
			m[seg] = v
			return
		}
		next, ok := m[seg].(map[string]any)
		if !ok {
			next = make(map[string]any)
			if prev, set := m[seg]; set {
				next[ScalarKey] = prev
			}
			m[seg] = next
		}
		m = next
	}
}

func decodeJSONString(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	t := strings.TrimSpace(s)
	if len(t) < 2 {
		return v
	}
	if (t[0] != '{' || t[len(t)-1] != '}') && (t[0] != '[' || t[len(t)-1] != ']') {
		return v
	}
	var decoded any
	if err := json.Unmarshal([]byte(t), &decoded); err != nil {
		return v
	}
	return decoded
}

// Flatten is the inverse of Unflatten: nested maps become dotted keys under
// ns, slices are JSON-encoded, and scalars are kept as they are. Empty maps
// produce no keys.
func Flatten(ns Namespace, nested map[string]any) map[string]any {
	out := make(map[string]any)
	FlattenInto(out, string(ns), nested)
	return out
}

// FlattenInto writes the flattened form of nested into dst under prefix.
func FlattenInto(dst map[string]any, prefix string, nested map[string]any) {
	for k, v := range nested {
		key := k
		switch {
		case k == ScalarKey && prefix != "":
			key = prefix
		case prefix != "":
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			FlattenInto(dst, key, val)
		case []any:
			encoded, err := json.Marshal(val)
			if err != nil {
				continue
			}
			dst[key] = string(encoded)
		default:
			dst[key] = v
		}
	}
}
