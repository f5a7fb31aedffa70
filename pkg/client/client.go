// Package client runs a complete benchmark session against a test server:
// it fetches the test definitions for this platform, acquires ffmpeg and the
// test videos, ramps every test and assembles the report.
package client

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/jellyfin/hwbench/internal/ffmpeg"
	"github.com/jellyfin/hwbench/internal/hwinfo"
	"github.com/jellyfin/hwbench/pkg/api"
	"github.com/jellyfin/hwbench/pkg/api/model"
	"github.com/jellyfin/hwbench/pkg/archive"
	"github.com/jellyfin/hwbench/pkg/artifact"
	"github.com/jellyfin/hwbench/pkg/ramp"
	reportmodel "github.com/jellyfin/hwbench/pkg/report/model"
	"github.com/jellyfin/hwbench/pkg/version"
)

const (
	// FilesDir is the directory below Config.FFmpegDir the bundle is
	// unpacked into.
	FilesDir = "ffmpeg_files"

	libraryName = "hwbench"
)

var (
	// ErrPlatform is returned when the test definitions for this machine
	// cannot be obtained.
	ErrPlatform = errors.New("cannot obtain test definitions for this platform")
	// ErrDeclined is returned when the operator declines to start the
	// benchmark.
	ErrDeclined = errors.New("benchmark declined")

	libraryVersion = version.Version
)

// Client runs benchmark sessions.
type Client struct {
	// ClientName is the name of the client sent to the server as part of the user-agent.
	ClientName string
	// ClientVersion is the version of the client sent to the server as part of the user-agent.
	ClientVersion string

	config Config

	api    *api.Client
	worker ramp.Worker
}

// makeUserAgent creates the user agent string.
func makeUserAgent(clientName, clientVersion string) string {
	return clientName + "/" + clientVersion + " " + libraryName + "/" + libraryVersion
}

// New returns a new Client with the provided client name, version and config.
// It panics if clientName or clientVersion are empty.
func New(clientName, clientVersion string, config Config) (*Client, error) {
	if clientName == "" || clientVersion == "" {
		panic("client name and version must be non-empty")
	}
	apiClient, err := api.NewClient(config.Server, makeUserAgent(clientName, clientVersion))
	if err != nil {
		return nil, err
	}
	if config.HTTPClient != nil {
		apiClient.HTTPClient = config.HTTPClient
	}
	if config.Emitter == nil {
		config.Emitter = HumanReadable{}
	}
	worker := config.Worker
	if worker == nil {
		worker = &ffmpeg.Worker{Timeout: config.WorkerTimeout}
	}
	return &Client{
		ClientName:    clientName,
		ClientVersion: clientVersion,

		config: config,
		api:    apiClient,
		worker: worker,
	}, nil
}

// API returns the client used to talk to the test server.
func (c *Client) API() *api.Client {
	return c.api
}

// Run runs a complete session and returns the report. The report is not
// submitted.
func (c *Client) Run(ctx context.Context) (*reportmodel.Report, error) {
	e := c.config.Emitter

	e.OnHeading("System Initialization")
	data, err := c.testData(ctx)
	if err != nil {
		return nil, err
	}
	info := hwinfo.Collect()
	e.OnDebug(fmt.Sprintf("hardware: %+v", info))
	e.OnPhaseDone()

	e.OnHeading("Loading ffmpeg")
	binary, err := c.loadFFmpeg(ctx, data.FFmpeg)
	if err != nil {
		return nil, err
	}
	e.OnPhaseDone()

	e.OnHeading("Obtaining Test-Files:")
	videos, err := c.loadVideos(ctx, data.Tests)
	if err != nil {
		return nil, err
	}
	e.OnPhaseDone()

	if c.config.Confirm != nil && !c.config.Confirm() {
		return nil, ErrDeclined
	}

	e.OnHeading("Starting Benchmark...")
	tests, err := c.benchmark(ctx, binary, data.Tests, videos)
	if err != nil {
		return nil, err
	}

	token := data.Token
	if token == "" {
		token = reportmodel.DefaultToken
	}
	report := &reportmodel.Report{
		Token:  token,
		RunID:  uuid.NewString(),
		HWInfo: info,
		Tests:  tests,
	}
	e.OnSummary(report)
	return report, nil
}

// testData fetches the test definitions for the platform matching this
// machine.
func (c *Client) testData(ctx context.Context) (*model.TestData, error) {
	platforms, err := c.api.Platforms(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlatform, err)
	}
	platform, err := hwinfo.MatchPlatform(platforms, runtime.GOOS, runtime.GOARCH)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlatform, err)
	}
	c.config.Emitter.OnDebug(fmt.Sprintf("using platform %s (%s)", platform.ID, platform.Name))
	data, err := c.api.TestData(ctx, platform.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlatform, err)
	}
	return data, nil
}

// loadFFmpeg acquires and unpacks the ffmpeg bundle and returns the path of
// the ffmpeg binary.
func (c *Client) loadFFmpeg(ctx context.Context, f model.FFmpeg) (string, error) {
	acquirer := artifact.New(c.config.HTTPClient, c.config.Emitter)
	out, err := acquirer.Acquire(ctx, c.config.FFmpegDir, f.SourceURL, f.Hashes)
	if err != nil {
		return "", fmt.Errorf("cannot obtain ffmpeg: %w", err)
	}
	log.Debug("ffmpeg bundle ready", "path", out.Path, "status", out.Status)

	dir := filepath.Join(c.config.FFmpegDir, FilesDir)
	if err := archive.Unpack(out.Path, dir, c.config.Emitter); err != nil {
		return "", fmt.Errorf("cannot unpack ffmpeg: %w", err)
	}
	return binaryPath(dir, runtime.GOOS), nil
}

// loadVideos acquires every test file and returns their local paths keyed
// by source URL.
func (c *Client) loadVideos(ctx context.Context, files []model.TestFile) (map[string]string, error) {
	acquirer := artifact.New(c.config.HTTPClient, nil)
	videos := make(map[string]string, len(files))
	for _, f := range files {
		name := filepath.Base(f.Name)
		c.config.Emitter.OnFileStart(name)
		out, err := acquirer.Acquire(ctx, c.config.VideoDir, f.SourceURL, f.Hashes)
		c.config.Emitter.OnFileDone(name, err)
		if err != nil {
			return nil, fmt.Errorf("cannot obtain %s: %w", name, err)
		}
		videos[f.SourceURL] = out.Path
	}
	return videos, nil
}

// benchmark ramps every selected test.
func (c *Client) benchmark(ctx context.Context, binary string, files []model.TestFile,
	videos map[string]string) ([]reportmodel.TestRun, error) {
	e := c.config.Emitter
	controller := ramp.New(c.worker, e)
	controller.MaxWorkers = c.config.MaxWorkers

	runs := []reportmodel.TestRun{}
	for _, f := range files {
		e.OnFile(f.Name)
		for _, test := range f.Data {
			e.OnTest(test.FromResolution, test.ToResolution)
			for _, arg := range test.Arguments {
				if !c.selected(arg.Type) {
					continue
				}
				e.OnDevice(arg.Type)
				command := Command(binary, arg.Args, videos[f.SourceURL], c.config.GPU)
				e.OnDebug("command: " + command)

				result := controller.Run(ctx, command)
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				runs = append(runs, reportmodel.TestRun{
					ID:          test.ID,
					Type:        arg.Type,
					SelectedGPU: c.config.GPU,
					SelectedCPU: 0,
					Runs:        result.Runs,
					Results:     result.Summary,
				})
			}
		}
	}
	return runs, nil
}

func (c *Client) selected(device string) bool {
	if len(c.config.Devices) == 0 {
		return true
	}
	for _, d := range c.config.Devices {
		if strings.EqualFold(d, device) {
			return true
		}
	}
	return false
}

// Submit uploads a report to the test server.
func (c *Client) Submit(ctx context.Context, r *reportmodel.Report) error {
	return c.api.Submit(ctx, r)
}

// Command expands the {video_file} and {gpu} placeholders of args and
// prefixes the ffmpeg binary. Paths are quoted for the worker's shell-style
// splitting.
func Command(binary, args, video string, gpu int) string {
	r := strings.NewReplacer(
		"{video_file}", quote(video),
		"{gpu}", strconv.Itoa(gpu),
	)
	return quote(binary) + " " + r.Replace(args)
}

// quote returns p with forward slashes, single-quoted if it contains
// characters the command splitter would interpret.
func quote(p string) string {
	p = filepath.ToSlash(p)
	if !strings.ContainsAny(p, " \t\n'\"\\#") {
		return p
	}
	return "'" + strings.ReplaceAll(p, "'", `'"'"'`) + "'"
}

func binaryPath(dir, goos string) string {
	if goos == "windows" {
		return filepath.Join(dir, "ffmpeg.exe")
	}
	return filepath.Join(dir, "ffmpeg")
}
