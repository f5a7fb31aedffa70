// Package artifact fetches files into a local directory, reusing a cached
// copy when its digest still matches the one published by the server and
// refetching it otherwise.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/jellyfin/hwbench/internal/metrics"
)

var (
	// ErrHTTPStatus is the kind of errors caused by a non-200 response.
	ErrHTTPStatus = errors.New("unexpected HTTP status")
	// ErrTransport is the kind of errors caused by a failed request or a
	// failure while reading the response body.
	ErrTransport = errors.New("transport error")
	// ErrChecksum is the kind of errors caused by a downloaded file whose
	// digest does not match the expected one.
	ErrChecksum = errors.New("invalid checksum")

	// ErrNoFilename is returned when a filename cannot be derived from the
	// source URL.
	ErrNoFilename = errors.New("cannot derive a filename from the URL")
)

// Error is a failed acquisition. Kind is one of ErrHTTPStatus, ErrTransport
// or ErrChecksum, so callers can use errors.Is to tell them apart.
type Error struct {
	Kind error
	URL  string
	// StatusCode is set when Kind is ErrHTTPStatus.
	StatusCode int
	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	switch {
	case e.Kind == ErrHTTPStatus:
		return fmt.Sprintf("%s %d for %s", e.Kind, e.StatusCode, e.URL)
	case e.Err != nil:
		return fmt.Sprintf("%s for %s: %v", e.Kind, e.URL, e.Err)
	default:
		return fmt.Sprintf("%s for %s", e.Kind, e.URL)
	}
}

func (e *Error) Unwrap() error { return e.Kind }

// Status tells how a successful acquisition was satisfied.
type Status int

const (
	// StatusCached means a valid local copy was reused without network access.
	StatusCached Status = iota + 1
	// StatusDownloaded means the file was fetched from the network.
	StatusDownloaded
)

func (s Status) String() string {
	switch s {
	case StatusCached:
		return "cached"
	case StatusDownloaded:
		return "downloaded"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Outcome is a successful acquisition.
type Outcome struct {
	Status Status
	// Path is the absolute path of the acquired file.
	Path string
}

// Notifier receives operator-facing advisories.
type Notifier interface {
	// OnNotice is called with an informational advisory.
	OnNotice(msg string)
	// OnWarning is called when an advisory needs the operator's attention,
	// e.g. when a file cannot be verified.
	OnWarning(msg string)
	// OnDownloadStart is called before a file is fetched from the network.
	OnDownloadStart(sourceURL string)
	// OnDownloadComplete is called after a file has been fetched and verified.
	OnDownloadComplete(path string, size int64)
}

// Acquirer fetches artifacts over HTTP.
type Acquirer struct {
	// Client is the HTTP client used for downloads. If nil,
	// http.DefaultClient is used.
	Client *http.Client
	// Notifier receives advisories. If nil, the Acquirer is silent.
	Notifier Notifier
}

// New returns an Acquirer using the given HTTP client and Notifier. Both may
// be nil.
func New(client *http.Client, n Notifier) *Acquirer {
	return &Acquirer{
		Client:   client,
		Notifier: n,
	}
}

// Acquire makes sure dir contains the file at sourceURL, named after the last
// element of the URL path.
//
// If the file exists and its digest matches, or it cannot be verified, it is
// reused without touching the network. Otherwise it is removed and fetched
// again. A downloaded file is only moved into place after it passes
// verification, so a file failing verification is never left behind.
func (a *Acquirer) Acquire(ctx context.Context, dir, sourceURL string, hashes Hashes) (Outcome, error) {
	neg := Negotiate(hashes, a.Notifier)

	dir, err := filepath.Abs(dir)
	if err != nil {
		return Outcome{}, err
	}
	name, err := filenameFromURL(sourceURL)
	if err != nil {
		return Outcome{}, err
	}
	filePath := filepath.Join(dir, name)

	cached, err := reuseCached(filePath, neg)
	if err != nil {
		return Outcome{}, err
	}
	if cached {
		log.Debug("reusing cached artifact", "path", filePath, "trust", neg.Trust)
		metrics.ArtifactAcquisitions.WithLabelValues("cached").Inc()
		return Outcome{Status: StatusCached, Path: filePath}, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Outcome{}, fmt.Errorf("cannot create %s: %w", dir, err)
	}
	return a.download(ctx, sourceURL, filePath, neg)
}

// reuseCached reports whether the file at filePath can be reused. A file
// with a mismatching digest is deleted.
func reuseCached(filePath string, neg Negotiation) (bool, error) {
	fi, err := os.Stat(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if fi.IsDir() {
		return false, fmt.Errorf("%s is a directory", filePath)
	}
	if !neg.Verifiable() {
		return true, nil
	}
	digest, err := FileDigest(filePath, neg.Algorithm)
	if err != nil {
		return false, err
	}
	if strings.EqualFold(digest, neg.Digest) {
		return true, nil
	}
	log.Info("cached artifact does not match, removing", "path", filePath,
		"expected", neg.Digest, "actual", digest)
	return false, os.Remove(filePath)
}

func (a *Acquirer) download(ctx context.Context, sourceURL, filePath string, neg Negotiation) (Outcome, error) {
	if a.Notifier != nil {
		a.Notifier.OnDownloadStart(sourceURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return Outcome{}, fail(&Error{Kind: ErrTransport, URL: sourceURL, Err: err})
	}
	client := a.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Outcome{}, fail(&Error{Kind: ErrTransport, URL: sourceURL, Err: err})
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Outcome{}, fail(&Error{Kind: ErrHTTPStatus, URL: sourceURL,
			StatusCode: resp.StatusCode})
	}

	tmp, err := os.CreateTemp(filepath.Dir(filePath), filepath.Base(filePath)+".*.part")
	if err != nil {
		return Outcome{}, err
	}
	tmpPath := tmp.Name()
	// After a successful rename there is nothing left to remove.
	defer os.Remove(tmpPath)

	size, err := io.Copy(tmp, resp.Body)
	metrics.ArtifactBytesDownloaded.Add(float64(size))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return Outcome{}, fail(&Error{Kind: ErrTransport, URL: sourceURL, Err: err})
	}

	if neg.Verifiable() {
		digest, err := FileDigest(tmpPath, neg.Algorithm)
		if err != nil {
			return Outcome{}, err
		}
		if !strings.EqualFold(digest, neg.Digest) {
			log.Debug("downloaded artifact does not match", "url", sourceURL,
				"expected", neg.Digest, "actual", digest)
			return Outcome{}, fail(&Error{Kind: ErrChecksum, URL: sourceURL})
		}
	}
	if err := os.Rename(tmpPath, filePath); err != nil {
		return Outcome{}, err
	}

	metrics.ArtifactAcquisitions.WithLabelValues("downloaded").Inc()
	if a.Notifier != nil {
		a.Notifier.OnDownloadComplete(filePath, size)
	}
	return Outcome{Status: StatusDownloaded, Path: filePath}, nil
}

func fail(e *Error) error {
	var label string
	switch e.Kind {
	case ErrHTTPStatus:
		label = "http-status"
	case ErrChecksum:
		label = "checksum"
	default:
		label = "transport"
	}
	metrics.ArtifactAcquisitions.WithLabelValues(label).Inc()
	return e
}

func filenameFromURL(sourceURL string) (string, error) {
	u, err := url.Parse(sourceURL)
	if err != nil {
		return "", err
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == ".." {
		return "", fmt.Errorf("%w: %s", ErrNoFilename, sourceURL)
	}
	return name, nil
}
