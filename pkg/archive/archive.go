// Package archive replaces a directory with the contents of a zip or
// gzip-compressed tar archive.
package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"

	"github.com/jellyfin/hwbench/internal/metrics"
)

var (
	// ErrUnsupportedFormat is returned for archives whose name does not end
	// with a known suffix.
	ErrUnsupportedFormat = errors.New("unsupported archive format")
	// ErrIllegalPath is returned for entries that would be extracted outside
	// of the target directory.
	ErrIllegalPath = errors.New("illegal path in archive")
)

// Format is an archive container format.
type Format string

const (
	FormatZip   = Format("zip")
	FormatTarGz = Format("tar.gz")
)

// Notifier receives operator-facing advisories.
type Notifier interface {
	OnInfo(msg string)
}

// FormatOf returns the Format of the archive at path, selected by its
// filename suffix.
func FormatOf(path string) (Format, error) {
	name := strings.ToLower(path)
	switch {
	case strings.HasSuffix(name, ".zip"):
		return FormatZip, nil
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return FormatTarGz, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(path))
	}
}

// Unpack removes targetDir, if it exists, and recreates it with the contents
// of the archive at archivePath. It is not a merge: files in targetDir that
// are not in the archive are gone afterwards.
//
// The format is checked before anything is removed, so an unsupported
// archive leaves targetDir untouched. n may be nil.
func Unpack(archivePath, targetDir string, n Notifier) error {
	format, err := FormatOf(archivePath)
	if err != nil {
		return err
	}
	targetDir, err = filepath.Abs(targetDir)
	if err != nil {
		return err
	}

	if _, err := os.Stat(targetDir); err == nil {
		if err := os.RemoveAll(targetDir); err != nil {
			return err
		}
		if n != nil {
			n.OnInfo("Replacing existing files with validated ones.")
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return err
	}
	// Entries are checked against the real location of the target.
	root, err := filepath.EvalSymlinks(targetDir)
	if err != nil {
		return err
	}

	log.Debug("unpacking archive", "archive", archivePath, "target", root,
		"format", format)
	switch format {
	case FormatZip:
		err = unzip(archivePath, root)
	case FormatTarGz:
		err = untar(archivePath, root)
	}
	if err != nil {
		return fmt.Errorf("cannot unpack %s: %w", filepath.Base(archivePath), err)
	}
	return nil
}

// destination returns the path where the entry called name is extracted,
// refusing names that would land outside of root.
func destination(root, name string) (string, error) {
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%w: %s", ErrIllegalPath, name)
	}
	dst := filepath.Join(root, filepath.FromSlash(name))
	if !within(root, dst) {
		return "", fmt.Errorf("%w: %s", ErrIllegalPath, name)
	}
	return dst, nil
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// resolve returns the clean path p with the symlinks of its existing part
// resolved. Trailing components that do not exist yet are kept as they are.
func resolve(p string) (string, error) {
	existing, rest := p, ""
	for {
		_, err := os.Lstat(existing)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		up := filepath.Dir(existing)
		if up == existing {
			break
		}
		rest = filepath.Join(filepath.Base(existing), rest)
		existing = up
	}
	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolved, rest), nil
}

// parent returns the real directory dst is created in. It fails with
// ErrIllegalPath if symlinks extracted earlier lead it outside of root.
func parent(root, dst string) (string, error) {
	dir, err := resolve(filepath.Dir(dst))
	if err != nil {
		return "", err
	}
	if !within(root, dir) {
		return "", fmt.Errorf("%w: %s resolves outside of the target", ErrIllegalPath, dst)
	}
	return dir, nil
}

func mkdir(root, dst string) error {
	dir, err := resolve(dst)
	if err != nil {
		return err
	}
	if !within(root, dir) {
		return fmt.Errorf("%w: %s resolves outside of the target", ErrIllegalPath, dst)
	}
	return os.MkdirAll(dir, 0o755)
}

func unzip(archivePath, root string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		dst, err := destination(root, f.Name)
		if err != nil {
			return err
		}
		mode := f.Mode()
		switch {
		case mode.IsDir():
			err = mkdir(root, dst)
		case mode&fs.ModeSymlink != 0:
			err = fmt.Errorf("%w: symlink %s in zip archive", ErrIllegalPath, f.Name)
		default:
			err = extractZipFile(root, f, dst)
		}
		if err != nil {
			return err
		}
		metrics.ArchiveEntriesExtracted.WithLabelValues(string(FormatZip)).Inc()
	}
	return nil
}

func extractZipFile(root string, f *zip.File, dst string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	return writeFile(root, dst, rc, f.Mode().Perm())
}

func untar(archivePath, root string) error {
	fp, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer fp.Close()
	gz, err := gzip.NewReader(fp)
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		dst, err := destination(root, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			err = mkdir(root, dst)
		case tar.TypeReg:
			err = writeFile(root, dst, tr, hdr.FileInfo().Mode().Perm())
		case tar.TypeSymlink:
			err = symlink(root, dst, hdr.Linkname)
		case tar.TypeLink:
			err = hardlink(root, dst, hdr.Linkname)
		default:
			log.Debug("skipping tar entry", "name", hdr.Name, "type", hdr.Typeflag)
			continue
		}
		if err != nil {
			return err
		}
		metrics.ArchiveEntriesExtracted.WithLabelValues(string(FormatTarGz)).Inc()
	}
}

// prepare creates the parent directory of dst and returns the real path to
// create the entry at. An existing entry at that path is removed, so a later
// entry never writes through a symlink extracted earlier.
func prepare(root, dst string) (string, error) {
	dir, err := parent(root, dst)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	p := filepath.Join(dir, filepath.Base(dst))
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}
	return p, nil
}

func writeFile(root, dst string, r io.Reader, perm fs.FileMode) error {
	p, err := prepare(root, dst)
	if err != nil {
		return err
	}
	if perm == 0 {
		perm = 0o644
	}
	fp, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(fp, r); err != nil {
		fp.Close()
		return err
	}
	return fp.Close()
}

// symlink creates dst pointing at linkname. The target is resolved from the
// real parent directory of dst, following the symlinks already extracted.
func symlink(root, dst, linkname string) error {
	if filepath.IsAbs(linkname) || strings.HasPrefix(linkname, "/") {
		return fmt.Errorf("%w: symlink %s -> %s", ErrIllegalPath, dst, linkname)
	}
	p, err := prepare(root, dst)
	if err != nil {
		return err
	}
	// The target is not cleaned before resolving: "a/.." must follow a.
	raw := filepath.Dir(p) + string(filepath.Separator) + filepath.FromSlash(linkname)
	target, err := filepath.EvalSymlinks(raw)
	if errors.Is(err, fs.ErrNotExist) {
		// Dangling for now. Anything later created below it is checked
		// by parent.
		target, err = filepath.Join(filepath.Dir(p), linkname), nil
	}
	if err != nil {
		return err
	}
	if !within(root, target) {
		return fmt.Errorf("%w: symlink %s -> %s", ErrIllegalPath, dst, linkname)
	}
	return os.Symlink(linkname, p)
}

func hardlink(root, dst, linkname string) error {
	src, err := destination(root, linkname)
	if err != nil {
		return err
	}
	src, err = filepath.EvalSymlinks(src)
	if err != nil {
		return err
	}
	if !within(root, src) {
		return fmt.Errorf("%w: hardlink %s -> %s", ErrIllegalPath, dst, linkname)
	}
	p, err := prepare(root, dst)
	if err != nil {
		return err
	}
	return os.Link(src, p)
}
