package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainGraph prefixes graph digests. The version suffix allows the
// canonical form to change without colliding with old digests.
const DomainGraph = "statenet/graph/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// GraphDigest computes the content digest of a graph description.
//
// Two descriptions that declare the same nodes and transitions in the same
// order get the same digest, regardless of map ordering in params or the
// Unicode normalization form of their strings. The store records it with
// every run so traces can be matched to the description that produced them.
func GraphDigest(g *GraphSpec) (string, error) {
	canonical, err := MarshalCanonical(graphObject(g))
	if err != nil {
		return "", fmt.Errorf("GraphDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainGraph, canonical), nil
}

// MustGraphDigest is like GraphDigest but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustGraphDigest(g *GraphSpec) string {
	d, err := GraphDigest(g)
	if err != nil {
		panic(err)
	}
	return d
}

func graphObject(g *GraphSpec) map[string]any {
	nodes := make([]any, len(g.Nodes))
	for i, n := range g.Nodes {
		obj := map[string]any{
			"name":     n.Name,
			"parent":   n.Parent,
			"behavior": n.Behavior,
			"children": n.Children,
		}
		if len(n.Params) > 0 {
			obj["params"] = n.Params
		}
		nodes[i] = obj
	}

	transitions := make([]any, len(g.Transitions))
	for i, t := range g.Transitions {
		obj := map[string]any{
			"name":     t.Name,
			"kind":     t.Kind,
			"from":     t.From,
			"to":       t.To,
			"count":    t.Count,
			"duration": t.Duration,
		}
		if t.Match != nil {
			obj["match"] = t.Match
		}
		transitions[i] = obj
	}

	return map[string]any{
		"ir_version":  IRVersion,
		"name":        g.Name,
		"root":        g.Root,
		"nodes":       nodes,
		"transitions": transitions,
	}
}
