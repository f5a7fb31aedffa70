package artifact_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/m-lab/go/testingx"

	"github.com/jellyfin/hwbench/pkg/artifact"
)

type recorder struct {
	notices  []string
	warnings []string
}

func (r *recorder) OnNotice(msg string)                        { r.notices = append(r.notices, msg) }
func (r *recorder) OnWarning(msg string)                       { r.warnings = append(r.warnings, msg) }
func (r *recorder) OnDownloadStart(sourceURL string)           {}
func (r *recorder) OnDownloadComplete(path string, size int64) {}

func digest(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// fileServer serves content at any path and counts the requests it receives.
func fileServer(t *testing.T, content string) (*httptest.Server, *atomic.Int32) {
	hits := &atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		hits.Add(1)
		rw.Write([]byte(content))
	}))
	t.Cleanup(srv.Close)
	return srv, hits
}

func TestNegotiate(t *testing.T) {
	tests := []struct {
		name         string
		hashes       artifact.Hashes
		want         artifact.Negotiation
		wantWarnings int
		wantNotices  int
	}{
		{
			name:         "nil hashes",
			hashes:       nil,
			want:         artifact.Negotiation{Trust: artifact.TrustNoHash},
			wantWarnings: 1,
		},
		{
			name:         "empty hashes",
			hashes:       artifact.Hashes{},
			want:         artifact.Negotiation{Trust: artifact.TrustNoHash},
			wantWarnings: 1,
		},
		{
			name:   "sha256",
			hashes: artifact.Hashes{"sha256": "abc"},
			want: artifact.Negotiation{
				Algorithm: "sha256", Digest: "abc", Trust: artifact.TrustVerified,
			},
			wantNotices: 1,
		},
		{
			name:   "sha256 among unsupported",
			hashes: artifact.Hashes{"md5": "x", "sha256": "abc", "blake3": "y"},
			want: artifact.Negotiation{
				Algorithm: "sha256", Digest: "abc", Trust: artifact.TrustVerified,
			},
			wantNotices: 1,
		},
		{
			name:         "only unsupported",
			hashes:       artifact.Hashes{"md5": "x"},
			want:         artifact.Negotiation{Trust: artifact.TrustUnsupported},
			wantWarnings: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &recorder{}
			got := artifact.Negotiate(tt.hashes, r)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Negotiate() mismatch (-want +got):\n%s", diff)
			}
			if len(r.warnings) != tt.wantWarnings || len(r.notices) != tt.wantNotices {
				t.Errorf("Negotiate() emitted %d warnings and %d notices, want %d and %d",
					len(r.warnings), len(r.notices), tt.wantWarnings, tt.wantNotices)
			}
		})
	}

	t.Run("the two unverifiable cases are distinguishable", func(t *testing.T) {
		noHash := &recorder{}
		unsupported := &recorder{}
		artifact.Negotiate(nil, noHash)
		artifact.Negotiate(artifact.Hashes{"md5": "x"}, unsupported)
		if noHash.warnings[0] == unsupported.warnings[0] {
			t.Errorf("same advisory for missing and unsupported hashes: %q",
				noHash.warnings[0])
		}
	})

	t.Run("nil notifier is silent", func(t *testing.T) {
		got := artifact.Negotiate(artifact.Hashes{"md5": "x"}, nil)
		if got.Verifiable() {
			t.Errorf("Negotiate() returned a verifiable result for md5")
		}
	})
}

func TestFileDigest(t *testing.T) {
	p := filepath.Join(t.TempDir(), "file")
	testingx.Must(t, os.WriteFile(p, []byte("hello"), 0o644), "cannot write file")

	got, err := artifact.FileDigest(p, "sha256")
	if err != nil {
		t.Fatalf("FileDigest() error: %v", err)
	}
	if got != digest("hello") {
		t.Errorf("FileDigest() = %s, want %s", got, digest("hello"))
	}

	if _, err := artifact.FileDigest(p, "md5"); err == nil {
		t.Errorf("FileDigest() with an unsupported algorithm did not fail")
	}
}

func TestAcquirer_Acquire(t *testing.T) {
	const content = "jellyfish"

	t.Run("second call is served from cache", func(t *testing.T) {
		srv, hits := fileServer(t, content)
		dir := filepath.Join(t.TempDir(), "nested", "videos")
		a := artifact.New(srv.Client(), nil)
		hashes := artifact.Hashes{"sha256": digest(content)}

		first, err := a.Acquire(context.Background(), dir, srv.URL+"/media/video.mkv", hashes)
		if err != nil {
			t.Fatalf("Acquire() error: %v", err)
		}
		second, err := a.Acquire(context.Background(), dir, srv.URL+"/media/video.mkv", hashes)
		if err != nil {
			t.Fatalf("Acquire() error: %v", err)
		}
		if first.Status != artifact.StatusDownloaded || second.Status != artifact.StatusCached {
			t.Errorf("unexpected statuses: %s, %s", first.Status, second.Status)
		}
		if first.Path != filepath.Join(dir, "video.mkv") || first.Path != second.Path {
			t.Errorf("unexpected paths: %s, %s", first.Path, second.Path)
		}
		if hits.Load() != 1 {
			t.Errorf("server received %d requests, want 1", hits.Load())
		}
	})

	t.Run("stale file is replaced", func(t *testing.T) {
		srv, hits := fileServer(t, content)
		dir := t.TempDir()
		stale := filepath.Join(dir, "video.mkv")
		testingx.Must(t, os.WriteFile(stale, []byte("stale"), 0o644), "cannot write stale file")

		a := artifact.New(srv.Client(), nil)
		out, err := a.Acquire(context.Background(), dir, srv.URL+"/video.mkv",
			artifact.Hashes{"sha256": digest(content)})
		if err != nil {
			t.Fatalf("Acquire() error: %v", err)
		}
		if out.Status != artifact.StatusDownloaded {
			t.Errorf("Acquire() status = %s, want downloaded", out.Status)
		}
		b, err := os.ReadFile(stale)
		testingx.Must(t, err, "cannot read file")
		if string(b) != content {
			t.Errorf("file content = %q, want %q", b, content)
		}
		if hits.Load() != 1 {
			t.Errorf("server received %d requests, want 1", hits.Load())
		}
	})

	t.Run("stale file and bad remote content", func(t *testing.T) {
		srv, hits := fileServer(t, "corrupted")
		dir := t.TempDir()
		stale := filepath.Join(dir, "video.mkv")
		testingx.Must(t, os.WriteFile(stale, []byte("stale"), 0o644), "cannot write stale file")

		a := artifact.New(srv.Client(), nil)
		_, err := a.Acquire(context.Background(), dir, srv.URL+"/video.mkv",
			artifact.Hashes{"sha256": digest(content)})
		if !errors.Is(err, artifact.ErrChecksum) {
			t.Fatalf("Acquire() error = %v, want ErrChecksum", err)
		}
		if _, err := os.Stat(stale); !os.IsNotExist(err) {
			t.Errorf("file failing verification was left on disk")
		}
		entries, err := os.ReadDir(dir)
		testingx.Must(t, err, "cannot read dir")
		if len(entries) != 0 {
			t.Errorf("leftover files in target directory: %v", entries)
		}
		if hits.Load() != 1 {
			t.Errorf("server received %d requests, want 1", hits.Load())
		}
	})

	t.Run("no hashes accepts any existing file", func(t *testing.T) {
		srv, hits := fileServer(t, content)
		dir := t.TempDir()
		existing := filepath.Join(dir, "video.mkv")
		testingx.Must(t, os.WriteFile(existing, []byte("anything"), 0o644), "cannot write file")

		out, err := artifact.New(srv.Client(), nil).Acquire(context.Background(), dir,
			srv.URL+"/video.mkv", nil)
		if err != nil {
			t.Fatalf("Acquire() error: %v", err)
		}
		if out.Status != artifact.StatusCached || hits.Load() != 0 {
			t.Errorf("Acquire() = %s with %d requests, want cached with 0", out.Status, hits.Load())
		}
	})

	t.Run("no hashes accepts any download", func(t *testing.T) {
		srv, _ := fileServer(t, content)
		out, err := artifact.New(srv.Client(), nil).Acquire(context.Background(),
			t.TempDir(), srv.URL+"/video.mkv", artifact.Hashes{})
		if err != nil {
			t.Fatalf("Acquire() error: %v", err)
		}
		if out.Status != artifact.StatusDownloaded {
			t.Errorf("Acquire() status = %s, want downloaded", out.Status)
		}
	})

	t.Run("unsupported algorithm is not verified", func(t *testing.T) {
		srv, _ := fileServer(t, content)
		r := &recorder{}
		_, err := artifact.New(srv.Client(), r).Acquire(context.Background(),
			t.TempDir(), srv.URL+"/video.mkv", artifact.Hashes{"md5": "nope"})
		if err != nil {
			t.Fatalf("Acquire() error: %v", err)
		}
		if len(r.warnings) != 1 {
			t.Errorf("expected one warning, got %v", r.warnings)
		}
	})

	t.Run("non-200 status", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		defer srv.Close()
		dir := t.TempDir()
		_, err := artifact.New(srv.Client(), nil).Acquire(context.Background(), dir,
			srv.URL+"/video.mkv", nil)
		var aerr *artifact.Error
		if !errors.As(err, &aerr) || !errors.Is(err, artifact.ErrHTTPStatus) {
			t.Fatalf("Acquire() error = %v, want ErrHTTPStatus", err)
		}
		if aerr.StatusCode != http.StatusNotFound {
			t.Errorf("StatusCode = %d, want 404", aerr.StatusCode)
		}
		if _, err := os.Stat(filepath.Join(dir, "video.mkv")); !os.IsNotExist(err) {
			t.Errorf("a file was written for a failed download")
		}
	})

	t.Run("transport error", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		u := srv.URL
		srv.Close()
		_, err := artifact.New(nil, nil).Acquire(context.Background(), t.TempDir(),
			u+"/video.mkv", nil)
		if !errors.Is(err, artifact.ErrTransport) {
			t.Fatalf("Acquire() error = %v, want ErrTransport", err)
		}
		if !strings.Contains(err.Error(), "video.mkv") {
			t.Errorf("error does not mention the URL: %v", err)
		}
	})

	t.Run("url without a filename", func(t *testing.T) {
		_, err := artifact.New(nil, nil).Acquire(context.Background(), t.TempDir(),
			"http://example.invalid/", nil)
		if !errors.Is(err, artifact.ErrNoFilename) {
			t.Fatalf("Acquire() error = %v, want ErrNoFilename", err)
		}
	})
}
