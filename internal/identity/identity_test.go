package identity

import "testing"

func TestValidateUsername(t *testing.T) {
	cases := []struct {
		in    string
		valid bool
	}{
		{"alice", true},
		{"bob_42", true},
		{"ab", false},
		{"", false},
		{"this_username_is_way_too_long", false},
		{"ali*ce", false},
		{"al:ce", false},
		{"Alice", false},
	}
	for _, c := range cases {
		t.Run(c.in, func(t *testing.T) {
			got := ValidateUsername(c.in) == ""
			if got != c.valid {
				t.Errorf("ValidateUsername(%q): expected valid=%v, got %v", c.in, c.valid, got)
			}
		})
	}
}

func TestNormalizeUsername(t *testing.T) {
	if got := NormalizeUsername("  Alice "); got != "alice" {
		t.Errorf("expected alice, got %q", got)
	}
}

func TestValidRoomID(t *testing.T) {
	for _, id := range []string{"lobby", "room-1", "R_2"} {
		if !ValidRoomID(id) {
			t.Errorf("expected %q to be valid", id)
		}
	}
	for _, id := range []string{"", "ttl", "count", "a:b", "a*"} {
		if ValidRoomID(id) {
			t.Errorf("expected %q to be invalid", id)
		}
	}
}

func TestNormalizeAddr(t *testing.T) {
	cases := map[string]string{
		"192.0.2.1:5555":       "192.0.2.1",
		"192.0.2.1":            "192.0.2.1",
		"[2001:DB8::1]:443":    "2001:db8::1",
		"2001:0db8:0000::0001": "2001:db8::1",
		" Not-An-IP ":          "not-an-ip",
	}
	for in, want := range cases {
		if got := NormalizeAddr(in); got != want {
			t.Errorf("NormalizeAddr(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestWordFilter(t *testing.T) {
	f := NewWordFilter([]string{"admin", " ", "Root"})

	if f.Allowed("superadmin") {
		t.Error("expected superadmin to be rejected")
	}
	if f.Allowed("rootbeer") {
		t.Error("expected rootbeer to be rejected (case-insensitive word)")
	}
	if !f.Allowed("alice") {
		t.Error("expected alice to be allowed")
	}
	if msg := Check("rootbeer", f); msg == "" {
		t.Error("Check should fail filtered username")
	}
	if msg := Check("alice", AllowAll{}); msg != "" {
		t.Errorf("Check(alice): expected ok, got %q", msg)
	}
}
