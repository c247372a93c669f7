// SPDX-License-Identifier: MIT

package retention

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/chponte/libreeye/internal/rerror"
	"github.com/chponte/libreeye/internal/util"
)

// LocalBackend walks a directory tree and yields regular files whose mtime
// is older than the configured retention window.
//
// Reference: surveillance/fs/local.py's LocalStorage.walk/LocalItem.
type LocalBackend struct {
	name string
	root string
}

// NewLocalBackend builds a backend rooted at root, named name (matching a
// storage descriptor's name for the retentionDays lookup in Sweep).
func NewLocalBackend(name, root string) *LocalBackend {
	return &LocalBackend{name: name, root: root}
}

func (l *LocalBackend) Name() string { return l.name }

func (l *LocalBackend) ListExpired(ctx context.Context, retentionDays int) (<-chan Item, <-chan error) {
	items := make(chan Item)
	errs := make(chan error, 1)

	if retentionDays <= 0 {
		close(items)
		close(errs)
		return items, errs
	}

	threshold := Threshold(retentionDays, time.Now())

	util.SafeGo("retention-local-walk-"+l.name, nil, func() {
		defer close(items)
		defer close(errs)

		err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if d.IsDir() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			if info.ModTime().Before(threshold) {
				select {
				case items <- &localItem{path: path, modTime: info.ModTime()}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
		if err != nil && err != ctx.Err() {
			errs <- rerror.Wrap(rerror.KindIO, "walk retention root "+l.root, err)
		}
	}, nil)

	return items, errs
}

type localItem struct {
	path    string
	modTime time.Time
}

func (i *localItem) Path() string        { return i.path }
func (i *localItem) ModTime() time.Time  { return i.modTime }
func (i *localItem) Remove() error {
	if err := os.Remove(i.path); err != nil {
		return rerror.Wrap(rerror.KindIO, "remove "+i.path, err)
	}
	return nil
}
