package expr

import "strconv"

const (
	// DefaultIterator is the iterator token of an outermost comprehension.
	DefaultIterator = "x"
	// IteratorPrefix starts the tokens of nested comprehensions.
	IteratorPrefix = "it"
)

func isScopeKind(k Kind) bool {
	return k == KindComprehension || k == KindCondense
}

// AssignIterators names the iterators of the comprehension or condense
// node id and of every comprehension nested in it, so that no two emit the
// same token. The outer node keeps its name, or gets DefaultIterator.
// Nested nodes are named it1, it2, ... in depth-first order, and the value
// variables under each are rewired to the innermost node defining their
// dimension.
func (t *Tree) AssignIterators(id NodeID) {
	n := &t.nodes[id]
	if !isScopeKind(n.Kind) {
		return
	}
	if n.iter == "" {
		n.iter = DefaultIterator
	}
	t.rewire(id, n.iter)

	var inner []NodeID
	for _, c := range n.Children {
		t.collectScopes(c, &inner)
	}
	for level, sid := range inner {
		name := IteratorPrefix + strconv.Itoa(level+1)
		t.nodes[sid].iter = name
		t.rewire(sid, name)
	}
}

func (t *Tree) collectScopes(id NodeID, out *[]NodeID) {
	n := &t.nodes[id]
	if isScopeKind(n.Kind) {
		*out = append(*out, id)
	}
	for _, c := range n.Children {
		t.collectScopes(c, out)
	}
}

// rewire points every value variable bound to a dimension of scopeID at
// iter. Binding happened during resolution, to the innermost scope that
// defines the variable's dimension name.
func (t *Tree) rewire(scopeID NodeID, iter string) {
	var walk func(id NodeID)
	walk = func(id NodeID) {
		n := &t.nodes[id]
		if n.Kind == KindValueVariable && n.binder == scopeID {
			n.iter = iter
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	for _, c := range t.nodes[scopeID].Children {
		walk(c)
	}
}
