package version

import (
	"strings"
	"testing"
)

func TestInfo_Defaults(t *testing.T) {
	v, c, d := Info()
	if v == "" || c == "" || d == "" {
		t.Fatalf("build info must not be empty: %q %q %q", v, c, d)
	}
}

func TestGettersMatchInfo(t *testing.T) {
	v, c, d := Info()

	if got := GetVersion(); got != v {
		t.Errorf("GetVersion (%s) should match Info version (%s)", got, v)
	}
	if got := GetCommit(); got != c {
		t.Errorf("GetCommit (%s) should match Info commit (%s)", got, c)
	}
	if got := GetDate(); got != d {
		t.Errorf("GetDate (%s) should match Info date (%s)", got, d)
	}
}

func TestString(t *testing.T) {
	s := String()
	for _, part := range []string{"version=", "commit=", "date="} {
		if !strings.Contains(s, part) {
			t.Errorf("String %q should contain %q", s, part)
		}
	}
}

func TestLdflagsOverride(t *testing.T) {
	prevVersion, prevCommit, prevDate := version, commit, date
	t.Cleanup(func() { version, commit, date = prevVersion, prevCommit, prevDate })

	version, commit, date = "v1.2.0", "abc1234", "2026-01-01"

	if String() != "version=v1.2.0 commit=abc1234 date=2026-01-01" {
		t.Fatalf("unexpected string %q", String())
	}
	fields := LogFields()
	if fields["version"] != "v1.2.0" || fields["commit"] != "abc1234" || fields["date"] != "2026-01-01" {
		t.Fatalf("unexpected log fields %v", fields)
	}
}
