// Package catalog resolves the ordered set of image names an extraction
// run works on.
package catalog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/menta2k/image-features/internal/utils"
	"github.com/menta2k/image-features/pkg/types"
)

// Catalog is a validated, ordered list of unique image names relative to Root.
type Catalog struct {
	Root  string
	Names []string
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	return len(c.Names)
}

// Path returns the filesystem path of a catalog name.
func (c *Catalog) Path(name string) string {
	return filepath.Join(c.Root, filepath.FromSlash(name))
}

// Scan recursively matches globs under root. The result is deduplicated and
// sorted.
func Scan(root string, globs []string) (*Catalog, error) {
	if len(globs) == 0 {
		globs = types.DefaultGlobs
	}
	if !utils.DirExists(root) {
		return nil, fmt.Errorf("%w in root %s: directory does not exist", types.ErrEmptyCatalog, root)
	}
	files, err := utils.ListFiles(root, globs)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in root %s", types.ErrEmptyCatalog, root)
	}
	return &Catalog{Root: root, Names: dedupSorted(files)}, nil
}

// FromNames validates an explicit list of names against root. Order is
// preserved and duplicates are dropped.
func FromNames(root string, names []string) (*Catalog, error) {
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, raw := range names {
		name, err := resolve(root, raw)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return &Catalog{Root: root, Names: out}, nil
}

// FromManifest reads one name per line from a text file and validates them
// against root. Blank lines and lines starting with '#' are ignored.
func FromManifest(root, manifest string) (*Catalog, error) {
	names, err := ParseManifest(manifest)
	if err != nil {
		return nil, err
	}
	return FromNames(root, names)
}

// ParseManifest returns the names listed in a manifest file.
func ParseManifest(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image list: %w", err)
	}
	defer f.Close()

	var names []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		names = append(names, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read image list: %w", err)
	}
	return names, nil
}

// resolve checks that name exists under root. Manifests written on other
// platforms may differ in Unicode normalization from the files on disk, so
// the NFC and NFD forms are tried before giving up.
func resolve(root, raw string) (string, error) {
	name := filepath.ToSlash(strings.TrimSpace(raw))
	for _, candidate := range []string{name, norm.NFC.String(name), norm.NFD.String(name)} {
		if utils.FileExists(filepath.Join(root, filepath.FromSlash(candidate))) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: image %s does not exist in root %s", types.ErrValidation, name, root)
}

func dedupSorted(names []string) []string {
	sort.Strings(names)
	out := names[:0]
	for i, n := range names {
		if i > 0 && n == names[i-1] {
			continue
		}
		out = append(out, n)
	}
	return out
}
