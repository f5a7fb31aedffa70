// Package model contains the wire format of the test server API.
package model

// Platform is a platform known to the test server.
type Platform struct {
	// ID identifies the platform in TestData requests.
	ID string `json:"id"`
	// Name is the operating system name, e.g. "linux" or "windows".
	Name string `json:"name"`
	// Architecture is the CPU architecture, e.g. "amd64". Empty means any.
	Architecture string `json:"architecture,omitempty"`
	// Supported is false for platforms the server lists but does not test.
	Supported bool `json:"supported"`
}

// TestData is the session definition returned for a platform.
type TestData struct {
	// Token identifies this session when submitting results. Optional.
	Token  string     `json:"token,omitempty"`
	FFmpeg FFmpeg     `json:"ffmpeg"`
	Tests  []TestFile `json:"tests"`
}

// FFmpeg is the ffmpeg bundle to use for this session.
type FFmpeg struct {
	SourceURL string            `json:"ffmpeg_source_url"`
	Hashes    map[string]string `json:"ffmpeg_hashs"`
}

// TestFile is a test video along with the tests to run on it.
type TestFile struct {
	Name      string            `json:"name"`
	SourceURL string            `json:"source_url"`
	Hashes    map[string]string `json:"source_hashs"`
	Data      []Test            `json:"data"`
}

// Test is a resolution transition, with one argument set per device type.
type Test struct {
	ID             string     `json:"id"`
	FromResolution string     `json:"from_resolution"`
	ToResolution   string     `json:"to_resolution"`
	Arguments      []Argument `json:"arguments"`
}

// Argument is an ffmpeg argument template for a device type.
//
// Args may contain the placeholders {video_file} and {gpu}.
type Argument struct {
	Type string `json:"type"`
	Args string `json:"args"`
}
