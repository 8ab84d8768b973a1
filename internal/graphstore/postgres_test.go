package graphstore

import "testing"

func TestBindNamedParamsIsDeterministic(t *testing.T) {
	params := map[string]any{"kind": "function", "id": "e-1", "identity": "x"}

	query, args := bindNamedParams("SELECT * FROM entities WHERE kind=:kind AND entity_id=:id AND owner=:identity", params)
	for i := 0; i < 20; i++ {
		q2, a2 := bindNamedParams("SELECT * FROM entities WHERE kind=:kind AND entity_id=:id AND owner=:identity", params)
		if q2 != query {
			t.Fatalf("bindNamedParams query not deterministic: %q vs %q", q2, query)
		}
		if len(a2) != len(args) {
			t.Fatalf("bindNamedParams args length changed")
		}
		for j := range args {
			if a2[j] != args[j] {
				t.Fatalf("bindNamedParams args not deterministic at %d: %v vs %v", j, a2[j], args[j])
			}
		}
	}
}

func TestBindNamedParamsLongestNameFirst(t *testing.T) {
	params := map[string]any{"id": "short", "identity": "long"}
	query, args := bindNamedParams("WHERE entity_id=:id AND owner=:identity", params)

	// "identity" must not have been partially replaced by the ":id"
	// substitution — both placeholders must resolve to distinct $n.
	if query == "" {
		t.Fatal("empty query")
	}
	if len(args) != 2 {
		t.Fatalf("expected 2 args, got %d", len(args))
	}
	// "id" sorts before "identity" lexicographically, so $1 -> id, $2 -> identity.
	if args[0] != "short" || args[1] != "long" {
		t.Fatalf("unexpected arg order: %v", args)
	}
	if want := "WHERE entity_id=$1 AND owner=$2"; query != want {
		t.Fatalf("bindNamedParams = %q, want %q", query, want)
	}
}
