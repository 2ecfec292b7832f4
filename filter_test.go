package fleetgate

import "testing"

func TestFilterMatch(t *testing.T) {
	f := NewFilter(Eq("driver_id", "d1"))
	if !f.Match(MapRow{"driver_id": "d1"}) {
		t.Fatalf("eq should match equal value")
	}
	if f.Match(MapRow{"driver_id": "d2"}) {
		t.Fatalf("eq should reject different value")
	}
	if f.Match(MapRow{"other": "d1"}) {
		t.Fatalf("missing field must fail the condition")
	}
}

func TestFilterIn(t *testing.T) {
	f := NewFilter(In("driver_id", "d1", "d2"))
	if !f.Match(MapRow{"driver_id": "d2"}) {
		t.Fatalf("in should match a member")
	}
	if f.Match(MapRow{"driver_id": "d3"}) {
		t.Fatalf("in should reject a non-member")
	}
}

func TestEmptyInMatchesNothing(t *testing.T) {
	f := NewFilter(In("driver_id"))
	if f.Match(MapRow{"driver_id": "d1"}) {
		t.Fatalf("empty membership set must match no row")
	}
}

func TestNilFilterMatchesEverything(t *testing.T) {
	var f *Filter
	if !f.Match(MapRow{"anything": "at all"}) {
		t.Fatalf("nil filter means unrestricted")
	}
	if f.String() != "unrestricted" {
		t.Fatalf("unexpected string form: %s", f.String())
	}
}

func TestConjunction(t *testing.T) {
	f := NewFilter(Eq("tenant_id", "t1"), In("driver_id", "d1", "d2"))
	if !f.Match(MapRow{"tenant_id": "t1", "driver_id": "d1"}) {
		t.Fatalf("both conditions hold, should match")
	}
	if f.Match(MapRow{"tenant_id": "t2", "driver_id": "d1"}) {
		t.Fatalf("failed condition must fail the filter")
	}
}
