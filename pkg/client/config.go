package client

import (
	"net/http"
	"time"

	"github.com/jellyfin/hwbench/pkg/ramp"
)

// Config is the configuration for a Client.
type Config struct {
	// Server is the base URL of the test server, e.g. https://hwa.jellyfin.org.
	Server string

	// FFmpegDir is where the ffmpeg bundle is downloaded and unpacked.
	FFmpegDir string

	// VideoDir is where the test videos are downloaded.
	VideoDir string

	// Devices restricts the benchmark to these argument types (e.g. "nvidia").
	// If empty, every type published by the server is run.
	Devices []string

	// GPU is the index substituted for the {gpu} placeholder.
	GPU int

	// MaxWorkers caps the number of concurrent transcodes per test. Zero
	// means no cap.
	MaxWorkers int

	// WorkerTimeout bounds every single ffmpeg process. Zero means no timeout.
	WorkerTimeout time.Duration

	// Emitter is the interface used to emit progress. It can be overridden
	// to provide a custom output.
	Emitter Emitter

	// Confirm is called once all the files are in place, before the benchmark
	// starts. Returning false aborts the session. If nil, the session
	// continues without asking.
	Confirm func() bool

	// HTTPClient is used for the API and for downloads. If nil,
	// http.DefaultClient is used.
	HTTPClient *http.Client

	// Worker runs the ramp steps. If nil, ffmpeg is run on this machine.
	Worker ramp.Worker
}
