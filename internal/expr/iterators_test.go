package expr

import (
	"context"
	"testing"
)

func TestAssignIteratorsUnique(t *testing.T) {
	tr := NewTree()
	// marray [i] values (condense over [j] using i+j) + (condense over [k] using condense over [l] using k*l)
	left := tr.Condense(OpAdd, tr.List(tr.DimRange("j", 0, 3)), tr.Binary(OpAdd, tr.Column("i"), tr.Column("j")))
	deep := tr.Condense(OpAdd, tr.List(tr.DimRange("l", 0, 3)), tr.Binary(OpMul, tr.Column("k"), tr.Column("l")))
	right := tr.Condense(OpMax, tr.List(tr.DimRange("k", 0, 3)), deep)
	root := tr.Marray(tr.List(tr.DimRange("i", 0, 3)), tr.Binary(OpAdd, left, right))

	if _, err := tr.ResolveType(&Env{}, root); err != nil {
		t.Fatalf("ResolveType: %v", err)
	}

	want := map[NodeID]string{root: "x", left: "it1", right: "it2", deep: "it3"}
	seen := make(map[string]NodeID)
	for id, iter := range want {
		if got := tr.Node(id).Iterator(); got != iter {
			t.Errorf("node %d iterator = %q, want %q", id, got, iter)
		}
		if prev, dup := seen[iter]; dup {
			t.Errorf("iterator %q assigned to %d and %d", iter, prev, id)
		}
		seen[iter] = id
	}

	res, err := tr.Render(context.Background(), &Env{}, root, false)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	expected := "(marray x in [i(0:3)] values (CONDENSE + OVER it1 in [j(0:3)] USING x[0] + it1[0])" +
		" + (CONDENSE max OVER it2 in [k(0:3)] USING CONDENSE + OVER it3 in [l(0:3)] USING it2[0] * it3[0]))"
	if res.Fragment != expected {
		t.Errorf("fragment:\n got %s\nwant %s", res.Fragment, expected)
	}
}

func TestAssignIteratorsStandaloneCondense(t *testing.T) {
	tr := NewTree()
	root := tr.Condense(OpAdd, tr.List(tr.DimRange("i", 0, 9)), tr.Var("i"))
	if _, err := tr.ResolveType(&Env{}, root); err != nil {
		t.Fatalf("ResolveType: %v", err)
	}
	res, err := tr.Render(context.Background(), &Env{}, root, false)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if want := "CONDENSE + OVER x in [i(0:9)] USING x[0]"; res.Fragment != want {
		t.Errorf("fragment = %q, want %q", res.Fragment, want)
	}
}

func TestAssignIteratorsDefaultNames(t *testing.T) {
	tr := NewTree()
	// unnamed dimensions are addressed as d0, d1
	root := tr.Marray(
		tr.List(tr.Range(tr.Literal(0), tr.Literal(1)), tr.Range(tr.Literal(0), tr.Literal(1))),
		tr.Binary(OpMul, tr.Var("d1"), tr.Literal(2)))
	typ, err := tr.ResolveType(&Env{}, root)
	if err != nil {
		t.Fatalf("ResolveType: %v", err)
	}
	if want := "MDARRAY BIGINT [d0(0:1), d1(0:1)]"; typ.String() != want {
		t.Errorf("type = %s, want %s", typ, want)
	}
	res, err := tr.Render(context.Background(), &Env{}, root, false)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if want := "(marray x in [0:1, 0:1] values x[1] * 2)"; res.Fragment != want {
		t.Errorf("fragment = %q, want %q", res.Fragment, want)
	}
}
