package idgen

import (
	"strings"
	"testing"
)

func TestWithPrefix(t *testing.T) {
	id := WithPrefix("usr_")
	if !strings.HasPrefix(id, "usr_") {
		t.Fatalf("id = %q", id)
	}
	if len(id) != len("usr_")+24 {
		t.Errorf("len = %d, want %d", len(id), len("usr_")+24)
	}
	if id == WithPrefix("usr_") {
		t.Error("two ids collided")
	}
}

func TestHexLength(t *testing.T) {
	if got := Hex(32); len(got) != 64 {
		t.Errorf("Hex(32) len = %d, want 64", len(got))
	}
}
