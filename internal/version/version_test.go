package version

import "testing"

func TestString(t *testing.T) {
	oldV, oldC, oldB := Version, Commit, BuildTime
	t.Cleanup(func() { Version, Commit, BuildTime = oldV, oldC, oldB })

	Version, Commit, BuildTime = "dev", "unknown", "unknown"
	if got := String(); got != "dev (unknown)" {
		t.Errorf("String() = %q, want %q", got, "dev (unknown)")
	}

	Version, Commit, BuildTime = "0.3.0", "abc1234", "2026-10-14T00:00:00Z"
	if got, want := String(), "0.3.0 (abc1234) built 2026-10-14T00:00:00Z"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
