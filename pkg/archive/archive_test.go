package archive_test

import (
	"archive/tar"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/m-lab/go/rtx"

	"github.com/jellyfin/hwbench/pkg/archive"
)

type entry struct {
	name    string
	content string
	mode    os.FileMode
	link    string
}

func writeZip(t *testing.T, path string, entries []entry) {
	fp, err := os.Create(path)
	rtx.Must(err, "cannot create zip")
	defer fp.Close()
	w := zip.NewWriter(fp)
	for _, e := range entries {
		hdr := &zip.FileHeader{Name: e.name, Method: zip.Deflate}
		hdr.SetMode(e.mode)
		fw, err := w.CreateHeader(hdr)
		rtx.Must(err, "cannot create zip entry")
		_, err = fw.Write([]byte(e.content))
		rtx.Must(err, "cannot write zip entry")
	}
	rtx.Must(w.Close(), "cannot close zip writer")
}

func writeTarGz(t *testing.T, path string, entries []entry) {
	fp, err := os.Create(path)
	rtx.Must(err, "cannot create tar.gz")
	defer fp.Close()
	gz := gzip.NewWriter(fp)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		if e.link != "" {
			err := tw.WriteHeader(&tar.Header{
				Name:     e.name,
				Mode:     0o777,
				Linkname: e.link,
				Typeflag: tar.TypeSymlink,
			})
			rtx.Must(err, "cannot write tar header")
			continue
		}
		err := tw.WriteHeader(&tar.Header{
			Name:     e.name,
			Mode:     int64(e.mode),
			Size:     int64(len(e.content)),
			Typeflag: tar.TypeReg,
		})
		rtx.Must(err, "cannot write tar header")
		_, err = tw.Write([]byte(e.content))
		rtx.Must(err, "cannot write tar entry")
	}
	rtx.Must(tw.Close(), "cannot close tar writer")
	rtx.Must(gz.Close(), "cannot close gzip writer")
}

// listFiles returns the slash-separated relative paths of all regular files
// under root.
func listFiles(t *testing.T, root string) []string {
	var files []string
	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			rel, _ := filepath.Rel(root, p)
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	rtx.Must(err, "cannot walk %s", root)
	sort.Strings(files)
	return files
}

type notices struct{ msgs []string }

func (n *notices) OnInfo(msg string) { n.msgs = append(n.msgs, msg) }

var bundle = []entry{
	{name: "ffmpeg", content: "#!/bin/sh\n", mode: 0o755},
	{name: "lib/libfoo.so", content: "elf", mode: 0o644},
}

func TestUnpack(t *testing.T) {
	for _, suffix := range []string{".zip", ".tar.gz"} {
		t.Run("replaces existing directory"+suffix, func(t *testing.T) {
			tmp := t.TempDir()
			archivePath := filepath.Join(tmp, "bundle"+suffix)
			if suffix == ".zip" {
				writeZip(t, archivePath, bundle)
			} else {
				writeTarGz(t, archivePath, bundle)
			}

			target := filepath.Join(tmp, "ffmpeg_files")
			rtx.Must(os.MkdirAll(filepath.Join(target, "old"), 0o755), "cannot create target")
			rtx.Must(os.WriteFile(filepath.Join(target, "old", "stale.txt"), []byte("x"), 0o644),
				"cannot write stale file")

			n := &notices{}
			if err := archive.Unpack(archivePath, target, n); err != nil {
				t.Fatalf("Unpack() error: %v", err)
			}
			want := []string{"ffmpeg", "lib/libfoo.so"}
			if diff := cmp.Diff(want, listFiles(t, target)); diff != "" {
				t.Errorf("unexpected files (-want +got):\n%s", diff)
			}
			if _, err := os.Stat(filepath.Join(target, "old")); !os.IsNotExist(err) {
				t.Errorf("old directory survived Unpack()")
			}
			if len(n.msgs) != 1 {
				t.Errorf("expected one replace notice, got %v", n.msgs)
			}

			if runtime.GOOS != "windows" {
				fi, err := os.Stat(filepath.Join(target, "ffmpeg"))
				rtx.Must(err, "cannot stat ffmpeg")
				if fi.Mode().Perm()&0o100 == 0 {
					t.Errorf("ffmpeg lost its executable bit: %v", fi.Mode())
				}
			}
		})
	}

	t.Run("creates missing target", func(t *testing.T) {
		tmp := t.TempDir()
		archivePath := filepath.Join(tmp, "bundle.zip")
		writeZip(t, archivePath, bundle)
		target := filepath.Join(tmp, "a", "b")
		n := &notices{}
		if err := archive.Unpack(archivePath, target, n); err != nil {
			t.Fatalf("Unpack() error: %v", err)
		}
		if len(n.msgs) != 0 {
			t.Errorf("replace notice emitted for a new directory: %v", n.msgs)
		}
		if len(listFiles(t, target)) != 2 {
			t.Errorf("unexpected files: %v", listFiles(t, target))
		}
	})

	t.Run("unsupported suffix leaves target untouched", func(t *testing.T) {
		tmp := t.TempDir()
		archivePath := filepath.Join(tmp, "bundle.7z")
		rtx.Must(os.WriteFile(archivePath, []byte("7z"), 0o644), "cannot write archive")
		target := filepath.Join(tmp, "ffmpeg_files")
		rtx.Must(os.MkdirAll(target, 0o755), "cannot create target")
		rtx.Must(os.WriteFile(filepath.Join(target, "keep"), []byte("x"), 0o644), "cannot write file")

		err := archive.Unpack(archivePath, target, nil)
		if !errors.Is(err, archive.ErrUnsupportedFormat) {
			t.Fatalf("Unpack() error = %v, want ErrUnsupportedFormat", err)
		}
		if _, err := os.Stat(filepath.Join(target, "keep")); err != nil {
			t.Errorf("target was modified: %v", err)
		}
	})

	t.Run("entries escaping the target are refused", func(t *testing.T) {
		tmp := t.TempDir()
		archivePath := filepath.Join(tmp, "evil.tar.gz")
		writeTarGz(t, archivePath, []entry{{name: "../evil", content: "x", mode: 0o644}})
		err := archive.Unpack(archivePath, filepath.Join(tmp, "out"), nil)
		if !errors.Is(err, archive.ErrIllegalPath) {
			t.Fatalf("Unpack() error = %v, want ErrIllegalPath", err)
		}
		if _, err := os.Stat(filepath.Join(tmp, "evil")); !os.IsNotExist(err) {
			t.Errorf("entry was written outside of the target")
		}
	})

	t.Run("symlink chains escaping the target are refused", func(t *testing.T) {
		if runtime.GOOS == "windows" {
			t.Skip("symlinks need privileges on windows")
		}
		tests := []struct {
			name    string
			entries []entry
		}{
			{
				name: "resolved",
				entries: []entry{
					{name: "a", link: "."},
					{name: "b", link: "a/.."},
					{name: "c", link: "b/.."},
					{name: "c/escaped.txt", content: "x", mode: 0o644},
				},
			},
			{
				name: "dangling when extracted",
				entries: []entry{
					{name: "x", link: "s/.."},
					{name: "s", link: "."},
					{name: "x/escaped.txt", content: "x", mode: 0o644},
				},
			},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				tmp := t.TempDir()
				archivePath := filepath.Join(tmp, "evil.tar.gz")
				writeTarGz(t, archivePath, tt.entries)
				target := filepath.Join(tmp, "root", "ffmpeg_files")
				err := archive.Unpack(archivePath, target, nil)
				if !errors.Is(err, archive.ErrIllegalPath) {
					t.Fatalf("Unpack() error = %v, want ErrIllegalPath", err)
				}
				for _, p := range []string{
					filepath.Join(tmp, "escaped.txt"),
					filepath.Join(tmp, "root", "escaped.txt"),
				} {
					if _, err := os.Lstat(p); !os.IsNotExist(err) {
						t.Errorf("entry was written outside of the target: %s", p)
					}
				}
			})
		}
	})

	t.Run("symlinks inside the target are kept", func(t *testing.T) {
		if runtime.GOOS == "windows" {
			t.Skip("symlinks need privileges on windows")
		}
		tmp := t.TempDir()
		archivePath := filepath.Join(tmp, "bundle.tar.gz")
		writeTarGz(t, archivePath, append(bundle, entry{name: "lib/libfoo.so.1", link: "libfoo.so"}))
		target := filepath.Join(tmp, "ffmpeg_files")
		if err := archive.Unpack(archivePath, target, nil); err != nil {
			t.Fatalf("Unpack() error: %v", err)
		}
		got, err := os.Readlink(filepath.Join(target, "lib", "libfoo.so.1"))
		rtx.Must(err, "cannot read symlink")
		if got != "libfoo.so" {
			t.Errorf("Readlink() = %q, want libfoo.so", got)
		}
		b, err := os.ReadFile(filepath.Join(target, "lib", "libfoo.so.1"))
		rtx.Must(err, "cannot read through symlink")
		if string(b) != "elf" {
			t.Errorf("symlink content = %q, want elf", b)
		}
	})

	t.Run("corrupt archive", func(t *testing.T) {
		tmp := t.TempDir()
		archivePath := filepath.Join(tmp, "bundle.zip")
		rtx.Must(os.WriteFile(archivePath, []byte("not a zip"), 0o644), "cannot write archive")
		if err := archive.Unpack(archivePath, filepath.Join(tmp, "out"), nil); err == nil {
			t.Errorf("Unpack() of a corrupt archive did not fail")
		}
	})
}

func TestFormatOf(t *testing.T) {
	tests := []struct {
		path    string
		want    archive.Format
		wantErr bool
	}{
		{path: "ffmpeg.zip", want: archive.FormatZip},
		{path: "/x/FFMPEG.ZIP", want: archive.FormatZip},
		{path: "jellyfin-ffmpeg_7.0_portable_linux64-gpl.tar.gz", want: archive.FormatTarGz},
		{path: "ffmpeg.tgz", want: archive.FormatTarGz},
		{path: "ffmpeg.tar.xz", wantErr: true},
		{path: "ffmpeg", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := archive.FormatOf(tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("FormatOf() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("FormatOf() = %q, want %q", got, tt.want)
			}
		})
	}
}
