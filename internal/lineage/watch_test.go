package lineage

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "lineage.json", jsonDescription)
	h := NewHolder(Fallback())

	reloaded := make(chan error, 4)
	w := NewWatcher(path, h, nil,
		WithDebounce(20*time.Millisecond),
		WithReloadHook(func(_ *Graph, err error) {
			select {
			case reloaded <- err:
			default:
			}
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte(yamlAsJSON), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	// A truncate can surface as its own reload before the content lands.
	deadline := time.After(5 * time.Second)
	for ok := false; !ok; {
		select {
		case err := <-reloaded:
			ok = err == nil
		case <-deadline:
			t.Fatal("timed out waiting for reload")
		}
	}

	if _, ok := h.Current().Node("curated.sessions"); !ok {
		t.Error("holder was not updated with reloaded graph")
	}
	if h.Current().EdgeCount() != 1 {
		t.Errorf("EdgeCount = %d, want 1", h.Current().EdgeCount())
	}
}

func TestWatcher_KeepsGraphOnBadReload(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "lineage.json", jsonDescription)
	initial, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	h := NewHolder(initial)

	reloaded := make(chan error, 4)
	w := NewWatcher(path, h, nil,
		WithDebounce(20*time.Millisecond),
		WithReloadHook(func(_ *Graph, err error) {
			select {
			case reloaded <- err:
			default:
			}
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("{broken"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case err := <-reloaded:
		if err == nil {
			t.Fatal("expected reload error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	if h.Current() != initial {
		t.Error("holder should keep the last good graph")
	}
}

func TestWatcher_MissingDirectory(t *testing.T) {
	t.Parallel()

	w := NewWatcher("/nonexistent/dir/lineage.json", NewHolder(Fallback()), nil)
	if err := w.Run(context.Background()); err == nil {
		t.Fatal("expected error watching missing directory")
	}
}

const yamlAsJSON = `{
  "nodes": [{"id": "raw.events"}, {"id": "curated.sessions"}],
  "edges": [{"from": "raw.events", "to": "curated.sessions"}]
}`
