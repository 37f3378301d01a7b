package utils

import (
	"errors"
	"testing"
)

func TestNormalizeToken(t *testing.T) {
	cases := map[string]string{
		"PALITANA_YATRA_417":        "PALITANA_YATRA_417",
		"  palitana_yatra_417\r\n ": "PALITANA_YATRA_417",
		"417":                       "PALITANA_YATRA_417",
		"00417":                     "PALITANA_YATRA_417",
		"":                          "",
		"GUEST-PASS":                "GUEST-PASS",
	}

	for in, want := range cases {
		if got := NormalizeToken(in); got != want {
			t.Errorf("NormalizeToken(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBadgeNumber(t *testing.T) {
	n, err := BadgeNumber("PALITANA_YATRA_1024")
	if err != nil {
		t.Fatalf("BadgeNumber failed: %v", err)
	}
	if n != 1024 {
		t.Errorf("badge mismatch: got %d, want 1024", n)
	}

	for _, bad := range []string{"PALITANA_YATRA_", "PALITANA_YATRA_X1", "OTHER_12", "PALITANA_YATRA_-3"} {
		if _, err := BadgeNumber(bad); !errors.Is(err, ErrNotBadgeToken) {
			t.Errorf("BadgeNumber(%q) should fail with ErrNotBadgeToken, got %v", bad, err)
		}
	}
}
