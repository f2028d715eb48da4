package profile

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestPathsUnderProfileDir(t *testing.T) {
	dir := Dir("work")
	for _, p := range []string{DBPath("work"), LockPath("work"), TokenPath("work"), LogPath("work")} {
		if !strings.HasPrefix(p, dir) {
			t.Errorf("%q not under profile dir %q", p, dir)
		}
	}
	if filepath.Base(DBPath("work")) != "quicktalk.db" {
		t.Errorf("db path = %q", DBPath("work"))
	}
}

func TestValidateName(t *testing.T) {
	valid := []string{"main", "work-1", "a_b", "x"}
	for _, name := range valid {
		if err := ValidateName(name); err != nil {
			t.Errorf("ValidateName(%q) = %v, want nil", name, err)
		}
	}

	invalid := []string{"", "UPPER", "has space", "dot.name", strings.Repeat("a", 65)}
	for _, name := range invalid {
		if err := ValidateName(name); err == nil {
			t.Errorf("ValidateName(%q) = nil, want error", name)
		}
	}
}

func TestResolvePrecedence(t *testing.T) {
	if got := Resolve("override"); got != "override" {
		t.Errorf("Resolve with flag = %q, want override", got)
	}
	// Without a flag and without a config file, the default wins.
	t.Setenv("HOME", t.TempDir())
	if got := Resolve(""); got != DefaultProfileName {
		t.Errorf("Resolve without flag = %q, want %q", got, DefaultProfileName)
	}
}
