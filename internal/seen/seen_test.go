package seen

import (
	"context"
	"testing"
)

func TestSessionContext(t *testing.T) {
	ctx := context.Background()
	if SessionFrom(ctx) != "" {
		t.Error("unbound context should have no session")
	}
	ctx = WithSession(ctx, "abc")
	if got := SessionFrom(ctx); got != "abc" {
		t.Errorf("got %q, want abc", got)
	}
}

func TestNoop(t *testing.T) {
	var tr Tracker = Noop{}
	if err := tr.Add(context.Background(), "s", "x"); err != nil {
		t.Fatal(err)
	}
	if titles, _ := tr.Titles(context.Background(), "s"); titles != nil {
		t.Errorf("noop returned %v", titles)
	}
}
