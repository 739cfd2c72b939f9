package model

import "testing"

func TestOrderedStringSetAddDeduplicates(t *testing.T) {
	var s OrderedStringSet
	s.Add("a")
	s.Add("b")
	s.Add("a")
	if len(s) != 2 {
		t.Fatalf("expected 2 elements, got %d (%v)", len(s), s)
	}
	if !s.Contains("a") || !s.Contains("b") {
		t.Fatalf("expected both a and b present, got %v", s)
	}
}

func TestOrderedStringSetPreservesInsertionOrder(t *testing.T) {
	s := NewOrderedStringSet("c", "a", "b", "a")
	want := []string{"c", "a", "b"}
	if len(s) != len(want) {
		t.Fatalf("expected %v, got %v", want, s)
	}
	for i, w := range want {
		if s[i] != w {
			t.Fatalf("expected %v, got %v", want, s)
		}
	}
}

func TestOrderedStringSetRemove(t *testing.T) {
	s := NewOrderedStringSet("a", "b", "c")
	if !s.Remove("b") {
		t.Fatal("expected Remove to report found")
	}
	if s.Contains("b") {
		t.Fatal("expected b to be gone")
	}
	if s.Remove("missing") {
		t.Fatal("expected Remove of absent element to report false")
	}
}

func TestOrderedStringSetClear(t *testing.T) {
	s := NewOrderedStringSet("a", "b")
	s.Clear()
	if len(s) != 0 {
		t.Fatalf("expected empty set, got %v", s)
	}
}
