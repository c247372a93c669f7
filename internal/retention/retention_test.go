// SPDX-License-Identifier: MIT

package retention

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLocalBackendListExpired(t *testing.T) {
	root := t.TempDir()

	old := filepath.Join(root, "old.mp4")
	recent := filepath.Join(root, "recent.mp4")
	writeFile(t, old, "x")
	writeFile(t, recent, "x")

	now := time.Now()
	chtimes(t, old, now.AddDate(0, 0, -31))
	chtimes(t, recent, now.AddDate(0, 0, -1))

	backend := NewLocalBackend("local", root)
	items, errs := backend.ListExpired(context.Background(), 30)

	var got []string
	for items != nil || errs != nil {
		select {
		case item, ok := <-items:
			if !ok {
				items = nil
				continue
			}
			got = append(got, item.Path())
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}
	}

	if len(got) != 1 || got[0] != old {
		t.Errorf("ListExpired() = %v, want [%s]", got, old)
	}
}

func TestLocalBackendShortCircuitsOnNonPositiveRetention(t *testing.T) {
	backend := NewLocalBackend("local", t.TempDir())
	items, errs := backend.ListExpired(context.Background(), 0)

	if _, ok := <-items; ok {
		t.Error("expected items channel to be empty")
	}
	if _, ok := <-errs; ok {
		t.Error("expected errs channel to be empty")
	}
}

func TestLocalItemRemove(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "seg.mp4")
	writeFile(t, path, "x")
	chtimes(t, path, time.Now().AddDate(0, 0, -31))

	backend := NewLocalBackend("local", root)
	items, _ := backend.ListExpired(context.Background(), 30)

	item, ok := <-items
	if !ok {
		t.Fatal("expected one expired item")
	}
	if err := item.Remove(); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("file still exists after Remove()")
	}
}

type fakeBackend struct {
	name    string
	items   []fakeItem
	removed *[]string
}

type fakeItem struct {
	path    string
	modTime time.Time
	failing bool
	removed *[]string
}

func (f *fakeItem) Path() string       { return f.path }
func (f *fakeItem) ModTime() time.Time { return f.modTime }
func (f *fakeItem) Remove() error {
	if f.failing {
		return errors.New("remove failed")
	}
	*f.removed = append(*f.removed, f.path)
	return nil
}

func (b *fakeBackend) Name() string { return b.name }
func (b *fakeBackend) ListExpired(ctx context.Context, retentionDays int) (<-chan Item, <-chan error) {
	items := make(chan Item, len(b.items))
	errs := make(chan error)
	for _, it := range b.items {
		cp := it
		cp.removed = b.removed
		items <- &cp
	}
	close(items)
	close(errs)
	return items, errs
}

func TestSweepContinuesPastItemErrors(t *testing.T) {
	var removed []string
	backend := &fakeBackend{
		name: "local",
		items: []fakeItem{
			{path: "a", failing: false},
			{path: "b", failing: true},
			{path: "c", failing: false},
		},
		removed: &removed,
	}

	count, errs := Sweep(context.Background(), []Backend{backend}, map[string]int{"local": 30})
	if count != 2 {
		t.Errorf("removed count = %d, want 2", count)
	}
	if len(errs) != 1 {
		t.Errorf("len(errs) = %d, want 1", len(errs))
	}
	if len(removed) != 2 || removed[0] != "a" || removed[1] != "c" {
		t.Errorf("removed = %v, want [a c]", removed)
	}
}

func TestSweepSkipsNonPositiveRetention(t *testing.T) {
	backend := &fakeBackend{name: "local", items: []fakeItem{{path: "a"}}, removed: &[]string{}}
	count, errs := Sweep(context.Background(), []Backend{backend}, map[string]int{"local": 0})
	if count != 0 || len(errs) != 0 {
		t.Errorf("Sweep() with 0 retention = (%d, %v), want (0, nil)", count, errs)
	}
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func chtimes(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("Chtimes() error = %v", err)
	}
}
