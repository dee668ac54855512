package broker

import "testing"

func TestEntryIDCompare(t *testing.T) {
	cases := []struct {
		a, b EntryID
		want int
	}{
		{"1-0", "1-0", 0},
		{"1-0", "1-1", -1},
		{"2-0", "1-9", 1},
		{"0-0", "0-1", -1},
	}
	for _, c := range cases {
		if got := c.a.Compare(c.b); got != c.want {
			t.Errorf("%s.Compare(%s) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestEntryIDAfter(t *testing.T) {
	if !EntryID("5-1").After(EntryID("5-0")) {
		t.Error("expected 5-1 to be after 5-0")
	}
	if EntryID("5-0").After(EntryID("5-0")) {
		t.Error("expected 5-0 to not be after itself")
	}
	if Zero.After(Zero) {
		t.Error("Zero must not be after itself")
	}
}
