package keys

import (
	"regexp"
	"strings"
	"testing"
)

var keySafe = regexp.MustCompile(`^[A-Za-z0-9:_=.\-]+$`)

func TestContent_Deterministic(t *testing.T) {
	k1 := Content("turku", "EPSG:3857", "classes=2&crs=EPSG%3A3857", "r0/1/2.bin")
	k2 := Content(" turku ", "epsg:3857", "classes=2&crs=EPSG%3A3857", "r0/1/2.bin")
	if k1 != k2 {
		t.Fatalf("keys differ:\n k1=%s\n k2=%s", k1, k2)
	}
	if !keySafe.MatchString(k1) {
		t.Fatalf("key has disallowed characters: %s", k1)
	}
	if !strings.HasPrefix(k1, "tile:turku:EPSG:3857:") {
		t.Fatalf("key=%s", k1)
	}
}

func TestContent_ScopeSeparatesKeys(t *testing.T) {
	a := Content("turku", "EPSG:3857", "classes=2", "r0")
	b := Content("turku", "EPSG:3857", "classes=6", "r0")
	if a == b {
		t.Fatalf("different query scopes must produce different keys")
	}
}

func TestContent_SanitizedRefsStayDistinct(t *testing.T) {
	// both refs sanitize to the same text; the hash keeps them apart
	a := Content("t", "EPSG:4326", "", "a b")
	b := Content("t", "EPSG:4326", "", "a\tb")
	if a == b {
		t.Fatalf("refs collided: %s", a)
	}
}

func TestContent_LongRefTruncated(t *testing.T) {
	k := Content("t", "EPSG:4326", "", strings.Repeat("x", 500))
	if len(k) > 250 {
		t.Fatalf("key too long: %d", len(k))
	}
}
