package version

import (
	"strings"
	"testing"
)

func TestStringBanner(t *testing.T) {
	if !strings.HasPrefix(String(), "monty ") {
		t.Fatalf("banner = %q", String())
	}
}

func TestInfoMatchesParsed(t *testing.T) {
	major, minor, micro, level, serial := Info()
	v := Language()
	if uint64(major) != v.Major() || uint64(minor) != v.Minor() || uint64(micro) != v.Patch() {
		t.Fatalf("Info() = (%d, %d, %d), version = %s", major, minor, micro, v)
	}
	if level == "" {
		t.Fatal("release level must not be empty")
	}
	if serial != 0 {
		t.Fatalf("serial = %d", serial)
	}
}

func TestCompatibleWith(t *testing.T) {
	ok, err := CompatibleWith(">=0.0.1")
	if err != nil || !ok {
		t.Fatalf("CompatibleWith(>=0.0.1) = %v, %v", ok, err)
	}
	ok, err = CompatibleWith(">=99.0")
	if err != nil || ok {
		t.Fatalf("CompatibleWith(>=99.0) = %v, %v", ok, err)
	}
	if _, err := CompatibleWith("!!nonsense"); err == nil {
		t.Fatal("invalid constraint should error")
	}
}
