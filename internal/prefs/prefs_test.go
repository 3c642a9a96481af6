package prefs

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestOpenMissingFileReturnsDefaults(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), "nope.bin"))
	got := s.Get()
	want := Defaults()
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected defaults %+v, got %+v", want, got)
	}
}

func TestUpdatePersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.bin")
	s := Open(path)

	err := s.Update(func(p *Preferences) {
		p.HasObserver = true
		p.LatitudeDeg = 37.4
		p.LongitudeDeg = -122.1
		p.DesiredStarCount = 30
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reopened := Open(path)
	got := reopened.Get()
	if !got.HasObserver || got.LatitudeDeg != 37.4 || got.LongitudeDeg != -122.1 {
		t.Fatalf("expected observer fields to persist across reload, got %+v", got)
	}
	if got.DesiredStarCount != 30 {
		t.Fatalf("expected desired star count to persist, got %d", got.DesiredStarCount)
	}
}

func TestOpenToleratesCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.bin")
	if err := os.WriteFile(path, []byte("not a valid preferences file"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}
	s := Open(path)
	if !reflect.DeepEqual(s.Get(), Defaults()) {
		t.Fatalf("expected fallback to defaults on corrupt file, got %+v", s.Get())
	}
}
