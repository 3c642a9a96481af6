package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchDirNotifiesOnFileCreate(t *testing.T) {
	dir := t.TempDir()
	w, err := New(nil)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer w.Close()

	notified := make(chan string, 1)
	if err := w.WatchDir(dir, nil, func(path string) {
		select {
		case notified <- path:
		default:
		}
	}); err != nil {
		t.Fatalf("watch dir: %v", err)
	}
	go w.Run()

	target := filepath.Join(dir, "frame.png")
	if err := os.WriteFile(target, []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	select {
	case got := <-notified:
		if got != target {
			t.Fatalf("expected notification for %s, got %s", target, got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for file-create notification")
	}
}

func TestWatchDirFiltersByExtension(t *testing.T) {
	dir := t.TempDir()
	w, err := New(nil)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer w.Close()

	notified := make(chan string, 1)
	exts := map[string]struct{}{".png": {}}
	if err := w.WatchDir(dir, exts, func(path string) {
		select {
		case notified <- path:
		default:
		}
	}); err != nil {
		t.Fatalf("watch dir: %v", err)
	}
	go w.Run()

	ignored := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(ignored, []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	matched := filepath.Join(dir, "frame.png")
	if err := os.WriteFile(matched, []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	select {
	case got := <-notified:
		if got != matched {
			t.Fatalf("expected only the .png file to notify, got %s", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for filtered notification")
	}
}
