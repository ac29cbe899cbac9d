package assembler

import (
	"encoding/json"

	"github.com/Agenta-AI/agenta-sub004/internal/model"
)

// Cumulate fills metrics.acc.{costs,tokens} on every node with the node's
// own metrics.unit values plus the acc values of its children, and sets
// metrics.acc.duration.total to the node's duration. Nodes whose subtree has
// no unit values keep whatever acc values they arrived with.
func Cumulate(traces model.Traces) {
	for _, tree := range traces {
		for _, n := range tree {
			cumulate(n)
		}
	}
}

type totals struct {
	costs  map[string]float64
	tokens map[string]float64
}

func cumulate(n *model.SpanNode) totals {
	acc := totals{
		costs:  numbers(lookup(n.Metrics, "unit", "costs")),
		tokens: numbers(lookup(n.Metrics, "unit", "tokens")),
	}
	for _, c := range n.Nodes {
		child := cumulate(c)
		add(acc.costs, child.costs)
		add(acc.tokens, child.tokens)
	}

	if n.Metrics == nil {
		n.Metrics = make(map[string]any)
	}
	accMap, ok := n.Metrics["acc"].(map[string]any)
	if !ok {
		accMap = make(map[string]any)
		n.Metrics["acc"] = accMap
	}
	if len(acc.costs) > 0 {
		accMap["costs"] = toAny(acc.costs)
	} else {
		acc.costs = numbers(accMap["costs"])
	}
	if len(acc.tokens) > 0 {
		accMap["tokens"] = toAny(acc.tokens)
	} else {
		acc.tokens = numbers(accMap["tokens"])
	}
	accMap["duration"] = map[string]any{"total": n.Time.Duration}
	return acc
}

func lookup(m map[string]any, path ...string) any {
	var cur any = m
	for _, p := range path {
		mm, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = mm[p]
	}
	return cur
}

func numbers(v any) map[string]float64 {
	out := make(map[string]float64)
	m, ok := v.(map[string]any)
	if !ok {
		return out
	}
	for k, x := range m {
		if f, ok := toFloat(x); ok {
			out[k] = f
		}
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func add(dst, src map[string]float64) {
	for k, v := range src {
		dst[k] += v
	}
}

func toAny(m map[string]float64) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
