package rules

import (
	"sort"
)

// LiteralIndex is an Aho–Corasick automaton over the registry's prefilter
// literals. Built once per snapshot, read-only afterwards. A single scan
// of the input reports every literal occurring in it, in time proportional
// to input length plus hit count, independent of registry size.
type LiteralIndex struct {
	nodes []indexNode
}

type indexNode struct {
	next map[rune]int32
	fail int32
	out  []int32 // literal ids terminating at (or failing into) this node
}

// BuildLiteralIndex constructs the automaton. Literals must already be
// normalized the same way input text is; empty literals are not allowed
// (the registry enforces a minimum length before building).
func BuildLiteralIndex(literals []string) *LiteralIndex {
	ix := &LiteralIndex{
		nodes: []indexNode{{next: make(map[rune]int32)}},
	}
	for id, lit := range literals {
		ix.insert(int32(id), lit)
	}
	ix.buildFailLinks()
	return ix
}

func (ix *LiteralIndex) insert(id int32, lit string) {
	state := int32(0)
	for _, r := range lit {
		next, ok := ix.nodes[state].next[r]
		if !ok {
			next = int32(len(ix.nodes))
			ix.nodes = append(ix.nodes, indexNode{next: make(map[rune]int32)})
			ix.nodes[state].next[r] = next
		}
		state = next
	}
	ix.nodes[state].out = append(ix.nodes[state].out, id)
}

// buildFailLinks runs the standard BFS construction, merging output sets
// along fail links so a hit at any state reports every literal ending
// there.
func (ix *LiteralIndex) buildFailLinks() {
	queue := make([]int32, 0, len(ix.nodes))
	for _, child := range ix.nodes[0].next {
		ix.nodes[child].fail = 0
		queue = append(queue, child)
	}
	for len(queue) > 0 {
		state := queue[0]
		queue = queue[1:]
		for r, child := range ix.nodes[state].next {
			queue = append(queue, child)
			fail := ix.nodes[state].fail
			for fail != 0 {
				if next, ok := ix.nodes[fail].next[r]; ok {
					fail = next
					goto linked
				}
				fail = ix.nodes[fail].fail
			}
			if next, ok := ix.nodes[0].next[r]; ok && next != child {
				fail = next
			}
		linked:
			ix.nodes[child].fail = fail
			ix.nodes[child].out = append(ix.nodes[child].out, ix.nodes[fail].out...)
		}
	}
}

// Hits scans text once and returns the ids of every literal occurring in
// it, deduplicated and sorted for deterministic downstream ordering.
func (ix *LiteralIndex) Hits(text string) []int {
	if len(ix.nodes) == 1 {
		return nil
	}
	seen := make(map[int32]struct{})
	state := int32(0)
	for _, r := range text {
		for {
			if next, ok := ix.nodes[state].next[r]; ok {
				state = next
				break
			}
			if state == 0 {
				break
			}
			state = ix.nodes[state].fail
		}
		for _, id := range ix.nodes[state].out {
			seen[id] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil
	}
	hits := make([]int, 0, len(seen))
	for id := range seen {
		hits = append(hits, int(id))
	}
	sort.Ints(hits)
	return hits
}

// Size returns the automaton's node count.
func (ix *LiteralIndex) Size() int {
	return len(ix.nodes)
}
