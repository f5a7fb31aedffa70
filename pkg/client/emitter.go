package client

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/jellyfin/hwbench/pkg/archive"
	"github.com/jellyfin/hwbench/pkg/artifact"
	"github.com/jellyfin/hwbench/pkg/ramp"
	reportmodel "github.com/jellyfin/hwbench/pkg/report/model"
)

// Emitter is an interface for emitting progress.
type Emitter interface {
	// Hash advisories and download progress for the ffmpeg bundle.
	artifact.Notifier
	// Advisories from the archive unpacker.
	archive.Notifier
	// Progress of every ramp step.
	ramp.Emitter

	// OnHeading is called when a new phase of the session starts.
	OnHeading(title string)
	// OnPhaseDone is called when a phase completes successfully.
	OnPhaseDone()
	// OnFileStart is called before a test file is acquired.
	OnFileStart(name string)
	// OnFileDone is called after a test file was acquired, with the error
	// if it failed.
	OnFileDone(name string, err error)
	// OnFile is called when the benchmark moves to a new test file.
	OnFile(name string)
	// OnTest is called when the benchmark moves to a new resolution pair.
	OnTest(from, to string)
	// OnDevice is called before a test is ramped on a device type.
	OnDevice(device string)
	// OnError is called on errors.
	OnError(err error)
	// OnDebug is called to print debug information.
	OnDebug(msg string)
	// OnSummary is called with the final report.
	OnSummary(r *reportmodel.Report)
}

var (
	headingStyle = lipgloss.NewStyle().Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

// HumanReadable prints human-readable output to stdout.
// It can be configured to include debug output, too.
type HumanReadable struct {
	Debug bool
}

// OnNotice prints an informational note.
func (HumanReadable) OnNotice(msg string) {
	fmt.Println("Note: " + msg)
}

// OnWarning prints a note that needs the operator's attention.
func (HumanReadable) OnWarning(msg string) {
	fmt.Println("Note: " + warningStyle.Render(msg))
}

// OnInfo prints an advisory from the unpacker.
func (HumanReadable) OnInfo(msg string) {
	fmt.Println("INFO: " + infoStyle.Render(msg))
}

// OnDownloadStart is called before a download starts.
func (HumanReadable) OnDownloadStart(string) {
	fmt.Print("Downloading file...")
}

// OnDownloadComplete is called after a download was verified.
func (e HumanReadable) OnDownloadComplete(path string, size int64) {
	fmt.Println(" success!")
	e.OnDebug(fmt.Sprintf("saved %d bytes to %s", size, path))
}

// OnStep prints the outcome of a ramp step.
func (HumanReadable) OnStep(workers int, lastSpeed float64, err error) {
	if err != nil {
		fmt.Printf("Workers: %d, Speed: %.2f (%s)\n", workers, lastSpeed,
			errorStyle.Render(ramp.Reason(err)))
		return
	}
	fmt.Printf("Workers: %d, Speed: %.2f\n", workers, lastSpeed)
}

// OnHeading prints the title of a phase.
func (HumanReadable) OnHeading(title string) {
	fmt.Println()
	fmt.Println(headingStyle.Render(title))
}

// OnPhaseDone is called when a phase completes.
func (HumanReadable) OnPhaseDone() {
	fmt.Println(successStyle.Render("Done"))
}

// OnFileStart is called before a test file is acquired.
func (HumanReadable) OnFileStart(name string) {
	fmt.Printf("| %q -", name)
}

// OnFileDone is called after a test file is acquired.
func (HumanReadable) OnFileDone(name string, err error) {
	if err != nil {
		fmt.Println(errorStyle.Render(" Error"))
		return
	}
	fmt.Println(" success!")
}

// OnFile is called when the benchmark moves to a new file.
func (HumanReadable) OnFile(name string) {
	fmt.Printf("> Current File: %s\n", name)
}

// OnTest is called when the benchmark moves to a new test.
func (HumanReadable) OnTest(from, to string) {
	fmt.Printf("> > Current Test: %s - %s\n", from, to)
}

// OnDevice is called when a test starts on a device.
func (HumanReadable) OnDevice(device string) {
	fmt.Printf("> > > Current Device: %s\n", device)
}

// OnError is called on errors.
func (HumanReadable) OnError(err error) {
	fmt.Println(errorStyle.Render(fmt.Sprintf("The following error occurred: %v", err)))
}

// OnDebug is called to print debug information.
func (e HumanReadable) OnDebug(msg string) {
	if e.Debug {
		fmt.Printf("DEBUG: %s\n", msg)
	}
}

// OnSummary prints the max streams reached by every test.
func (HumanReadable) OnSummary(r *reportmodel.Report) {
	fmt.Println()
	fmt.Println(headingStyle.Render("Test results:"))
	for _, t := range r.Tests {
		if len(t.Runs) == 0 {
			fmt.Printf("  %s (%s): %s\n", t.ID, t.Type, warningStyle.Render("no valid run"))
			continue
		}
		fmt.Printf("  %s (%s): max streams %d, speed %.2f, rss %d kB, stopped by %v\n",
			t.ID, t.Type, t.Results.MaxStreams, t.Results.SingleWorkerSpeed,
			t.Results.SingleWorkerRSSKB, t.Results.FailureReasons)
	}
}

// Checks that HumanReadable implements Emitter.
var _ Emitter = &HumanReadable{}
