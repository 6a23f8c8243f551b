package ids

import "testing"

func TestNewIsMonotonic(t *testing.T) {
	prev := New()
	for i := 0; i < 1000; i++ {
		next := New()
		if next <= prev {
			t.Fatalf("ids not increasing: %s then %s", prev, next)
		}
		prev = next
	}
}

func TestValid(t *testing.T) {
	if !Valid(New()) {
		t.Fatal("expected generated id to be valid")
	}
	for _, raw := range []string{"", "   ", "not-an-id", "../../etc/passwd", "01ARZ3NDEKTSV4RRFFQ69G5FAVX"} {
		if Valid(raw) {
			t.Fatalf("expected %q to be invalid", raw)
		}
	}
}
