// Package workspace prepares the run output tree and hands each device its
// own subdirectory inside it.
package workspace

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"

	"bytemomo/armada/internal/domain"
)

// Reset removes everything under path and recreates it as an empty
// directory. A missing path is not an error.
func Reset(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("%w: empty output path", domain.ErrWorkspacePrepFailed)
	}
	clean := filepath.Clean(path)
	if isRoot(clean) {
		return fmt.Errorf("%w: refusing to reset %s", domain.ErrWorkspacePrepFailed, clean)
	}

	if err := os.RemoveAll(clean); err != nil {
		return fmt.Errorf("%w: remove %s: %w", domain.ErrWorkspacePrepFailed, clean, err)
	}
	if err := os.MkdirAll(clean, 0o755); err != nil {
		return fmt.Errorf("%w: create %s: %w", domain.ErrWorkspacePrepFailed, clean, err)
	}
	return nil
}

// DeviceDir returns the subdirectory of root owned by d.
func DeviceDir(root string, d domain.Device) string {
	return filepath.Join(root, dirName(d.Serial))
}

// PrepareDevice creates the device subdirectory and returns its path.
func PrepareDevice(root string, d domain.Device) (string, error) {
	dir := DeviceDir(root, d)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create device dir %s: %w", dir, err)
	}
	return dir, nil
}

// dirName maps a serial such as "192.168.1.20:5555" onto a single safe
// path element. Distinct serials always get distinct names: '_' is the
// escape byte, so a literal '_' becomes "__" and any other byte outside
// [A-Za-z0-9.-] becomes "_xx" in hex. Serials with upper case letters get a
// hash suffix so that names stay distinct on case-insensitive filesystems.
func dirName(serial string) string {
	switch serial {
	case "":
		return "_"
	case ".", "..":
		return strings.Repeat("_2e", len(serial))
	}

	var b strings.Builder
	upper := false
	for i := 0; i < len(serial); i++ {
		c := serial[i]
		switch {
		case c >= 'A' && c <= 'Z':
			upper = true
			b.WriteByte(c)
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '.':
			b.WriteByte(c)
		case c == '_':
			b.WriteString("__")
		default:
			fmt.Fprintf(&b, "_%02x", c)
		}
	}
	if upper {
		h := fnv.New32a()
		h.Write([]byte(serial))
		fmt.Fprintf(&b, "-%08x", h.Sum32())
	}
	return b.String()
}

func isRoot(p string) bool {
	return filepath.Dir(p) == p
}
