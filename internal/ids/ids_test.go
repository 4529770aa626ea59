package ids

import (
	"strings"
	"testing"
)

func TestNewPrefixedAndSortable(t *testing.T) {
	a := New(User)
	b := New(User)
	if !strings.HasPrefix(a, "usr_") {
		t.Fatalf("expected usr_ prefix, got %s", a)
	}
	if a == b {
		t.Fatalf("expected unique ids, got %s twice", a)
	}
	if a >= b {
		t.Fatalf("expected monotonic ids, got %s then %s", a, b)
	}
}

func TestValid(t *testing.T) {
	id := New(Tenant)
	if !Valid(id, Tenant) {
		t.Fatalf("expected %s to be valid", id)
	}
	if Valid(id, User) {
		t.Fatalf("prefix mismatch should be invalid")
	}
	cases := []string{"", "tnt_", "tnt_abc", "tnt_" + strings.Repeat("z", 26), "nonsense"}
	for _, c := range cases {
		if Valid(c, Tenant) {
			t.Fatalf("expected %q to be invalid", c)
		}
	}
	if !Valid(New(""), "") {
		t.Fatalf("bare ulid should be valid")
	}
}
