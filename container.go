package wharf

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/quayside/wharf/internal/wire"
)

// modeMask is or'd into every mode applied to disk, matching upstream
// wharf: whatever the manifest says, the owner keeps read/write access.
const modeMask = 0o644

// ignoredDirs are pruned during container scans, as upstream tlc does.
var ignoredDirs = map[string]struct{}{
	".git": {},
	".hg":  {},
	".svn": {},
}

// Dir is a directory entry of a container.
type Dir struct {
	Path string
	Mode uint32
}

// Symlink is a symbolic-link entry of a container.
type Symlink struct {
	Path string
	Mode uint32
	Dest string
}

// File is a regular-file entry of a container. Its position in
// Container.Files is the dense zero-based index that patch and signature
// messages use to refer to it; the declared Size is authoritative for
// reconstruction.
type File struct {
	Path string
	Mode uint32
	Size int64
}

// Container is the ordered manifest of a directory tree: every dir, file
// and symlink with size and mode metadata. It is the unit both the
// signature and patch formats describe trees with.
type Container struct {
	// Size is the total byte count of all files.
	Size int64

	Dirs     []Dir
	Files    []File
	Symlinks []Symlink
}

// ScanContainer walks dir and builds its manifest. Entries are collected
// in lexical walk order, which fixes the file indices for everything
// derived from the container. Version-control directories are skipped.
func ScanContainer(dir string) (*Container, error) {
	c := &Container{}
	root := os.DirFS(dir)
	err := fs.WalkDir(root, ".", func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if p == "." {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		mode := uint32(info.Mode().Perm())
		switch {
		case d.IsDir():
			if _, skip := ignoredDirs[d.Name()]; skip {
				return fs.SkipDir
			}
			c.Dirs = append(c.Dirs, Dir{Path: p, Mode: mode})
		case info.Mode()&fs.ModeSymlink != 0:
			dest, err := os.Readlink(filepath.Join(dir, filepath.FromSlash(p)))
			if err != nil {
				return err
			}
			c.Symlinks = append(c.Symlinks, Symlink{Path: p, Mode: mode, Dest: filepath.ToSlash(dest)})
		case info.Mode().IsRegular():
			c.Files = append(c.Files, File{Path: p, Mode: mode, Size: info.Size()})
			c.Size += info.Size()
		}
		// Sockets, devices and other irregular entries are not part of a
		// container.
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// File returns the entry at index, or ErrRange when the index falls
// outside the manifest.
func (c *Container) File(index int64) (File, error) {
	if index < 0 || index >= int64(len(c.Files)) {
		return File{}, fmt.Errorf("%w: file index %d of %d", ErrRange, index, len(c.Files))
	}
	return c.Files[index], nil
}

// BlockCount returns how many hash blocks the file at index occupies for
// the given block size. An empty file still counts one block: wharf
// signatures carry a hash even for zero bytes.
func (f File) BlockCount(blockSize int64) int64 {
	n := (f.Size + blockSize - 1) / blockSize
	if n == 0 {
		n = 1
	}
	return n
}

// TotalBlocks returns the block count of every file combined.
func (c *Container) TotalBlocks(blockSize int64) int64 {
	var total int64
	for _, f := range c.Files {
		total += f.BlockCount(blockSize)
	}
	return total
}

// Stats renders a one-line summary, for logs and the info command.
func (c *Container) Stats() string {
	return fmt.Sprintf("%d files, %d dirs, %d symlinks, %d bytes",
		len(c.Files), len(c.Dirs), len(c.Symlinks), c.Size)
}

// PrepareTree materializes the container's directories and symlinks under
// dir, creating dir itself if needed. File content is not touched; that is
// the patch engines' job. Symlinks that already exist are replaced so the
// destination always matches the manifest.
func (c *Container) PrepareTree(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, d := range c.Dirs {
		p, err := safeJoin(dir, d.Path)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(p, os.FileMode(d.Mode|modeMask)); err != nil {
			return err
		}
	}
	for _, s := range c.Symlinks {
		p, err := safeJoin(dir, s.Path)
		if err != nil {
			return err
		}
		if err := replaceSymlink(s.Dest, p); err != nil {
			return err
		}
	}
	return nil
}

// ApplyPermissions chmods every file and dir to its manifest mode (masked
// with the wharf minimum of 0644). Symlink modes are left to the platform.
func (c *Container) ApplyPermissions(dir string) error {
	for _, f := range c.Files {
		p, err := safeJoin(dir, f.Path)
		if err != nil {
			return err
		}
		if err := os.Chmod(p, maskMode(f.Mode)); err != nil {
			return err
		}
	}
	for _, d := range c.Dirs {
		p, err := safeJoin(dir, d.Path)
		if err != nil {
			return err
		}
		if err := os.Chmod(p, maskMode(d.Mode)); err != nil {
			return err
		}
	}
	return nil
}

func maskMode(mode uint32) os.FileMode {
	return os.FileMode((mode & 0o777) | modeMask)
}

func replaceSymlink(dest, link string) error {
	if _, err := os.Lstat(link); err == nil {
		if err := os.Remove(link); err != nil {
			return err
		}
	}
	return os.Symlink(filepath.FromSlash(dest), link)
}

// safeJoin resolves a slash-separated container path under base,
// rejecting anything that could escape it. Container paths come off the
// wire and are not trusted.
func safeJoin(base, p string) (string, error) {
	if p == "" || path.IsAbs(p) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, p)
	}
	clean := path.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, p)
	}
	if filepath.IsAbs(filepath.FromSlash(clean)) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, p)
	}
	return filepath.Join(base, filepath.FromSlash(clean)), nil
}

func (c *Container) toWire() *wire.Container {
	w := &wire.Container{Size: c.Size}
	for _, d := range c.Dirs {
		w.Dirs = append(w.Dirs, wire.Dir{Path: d.Path, Mode: d.Mode})
	}
	for _, s := range c.Symlinks {
		w.Symlinks = append(w.Symlinks, wire.Symlink{Path: s.Path, Mode: s.Mode, Dest: s.Dest})
	}
	for _, f := range c.Files {
		w.Files = append(w.Files, wire.File{Path: f.Path, Mode: f.Mode, Size: f.Size})
	}
	return w
}

func containerFromWire(w *wire.Container) *Container {
	c := &Container{Size: w.Size}
	for _, d := range w.Dirs {
		c.Dirs = append(c.Dirs, Dir{Path: d.Path, Mode: d.Mode})
	}
	for _, s := range w.Symlinks {
		c.Symlinks = append(c.Symlinks, Symlink{Path: s.Path, Mode: s.Mode, Dest: s.Dest})
	}
	for _, f := range w.Files {
		c.Files = append(c.Files, File{Path: f.Path, Mode: f.Mode, Size: f.Size})
	}
	return c
}
