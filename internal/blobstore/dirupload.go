package blobstore

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"

	"github.com/bmatcuk/doublestar/v4"
)

// UploadDir uploads every regular file under root matching glob (e.g.
// "**/*") to store, keyed by prefix joined with the file's path relative to
// root. It is the bulk-upload path used when a deployment's index engine
// keeps its on-disk chunk layout as a plain directory tree rather than
// exposing an indexstore.Snapshot file list directly.
func UploadDir(ctx context.Context, store Store, root, prefix, glob string) error {
	matches, err := doublestar.Glob(os.DirFS(root), glob)
	if err != nil {
		return fmt.Errorf("glob %s under %s: %w", glob, root, err)
	}
	for _, rel := range matches {
		info, err := fs.Stat(os.DirFS(root), rel)
		if err != nil {
			return fmt.Errorf("stat %s: %w", rel, err)
		}
		if info.IsDir() {
			continue
		}
		f, err := os.Open(path.Join(root, rel))
		if err != nil {
			return fmt.Errorf("open %s: %w", rel, err)
		}
		err = store.Put(ctx, path.Join(prefix, rel), f)
		f.Close()
		if err != nil {
			return fmt.Errorf("upload %s: %w", rel, err)
		}
	}
	return nil
}
