package notify

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Dropper stages backup files into a watched drop directory. The write
// goes to a temp name and is renamed into place, so a watcher never sees
// a half-copied backup.
type Dropper struct {
	dir string
}

// NewDropper creates a Dropper for dir.
func NewDropper(dir string) *Dropper {
	return &Dropper{dir: dir}
}

// Drop copies the file at src into the drop directory under its base
// name and returns the final path. Safe to call concurrently.
func (d *Dropper) Drop(src string) (string, error) {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return "", fmt.Errorf("notify: mkdir %s: %w", d.dir, err)
	}

	name := sanitizeName(filepath.Base(src))
	dst := filepath.Join(d.dir, name)
	tmp := dst + ".tmp"

	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("notify: open %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("notify: create %s: %w", tmp, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return "", fmt.Errorf("notify: copy to %s: %w", tmp, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("notify: close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("notify: finalize %s: %w", dst, err)
	}
	return dst, nil
}

// sanitizeName replaces characters unsafe for filenames.
func sanitizeName(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		if name[i] == '/' || name[i] == ':' {
			out[i] = '_'
		} else {
			out[i] = name[i]
		}
	}
	return string(out)
}
