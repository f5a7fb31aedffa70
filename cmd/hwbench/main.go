package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/charmbracelet/log"
	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"

	"github.com/jellyfin/hwbench/internal/persistence"
	"github.com/jellyfin/hwbench/internal/prompt"
	"github.com/jellyfin/hwbench/pkg/client"
	"github.com/jellyfin/hwbench/pkg/version"
)

const clientName = "hwbench-cli"

var (
	flagServer        = flag.String("server", "", "Server URL for test data and result submission")
	flagFFmpeg        = flag.String("ffmpeg", "./ffmpeg", "Path for the ffmpeg download and execution")
	flagVideos        = flag.String("videos", "./videos", "Path for the test file downloads (SSD recommended)")
	flagOutput        = flag.String("output", "./output.json", "Path to the output JSON file (empty or - for stdout, .gz to compress)")
	flagDebug         = flag.Bool("debug", false, "Enable additional debug output")
	flagYes           = flag.Bool("yes", false, "Do not ask for confirmation")
	flagGPU           = flag.Int("gpu", 0, "Index of the GPU to benchmark")
	flagMaxWorkers    = flag.Int("max-workers", 0, "Maximum concurrent transcodes per test (0 = no limit)")
	flagWorkerTimeout = flag.Duration("worker-timeout", 0, "Timeout for a single ffmpeg process (0 = none)")
	flagSubmit        = flag.Bool("submit", false, "Submit the results to the server")
	flagMetrics       = flag.Bool("metrics", false, "Serve Prometheus metrics")
	flagDevices       = flagx.StringArray{}
)

func init() {
	flag.Var(&flagDevices, "devices", "Device types to benchmark (repeatable, default nvidia)")
}

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not get args from environment")

	log.SetLevel(log.InfoLevel)
	if *flagDebug {
		log.SetLevel(log.DebugLevel)
		log.SetReportCaller(true)
	}
	if *flagServer == "" {
		log.Fatal("-server is required")
	}
	if *flagMetrics {
		promSrv := prometheusx.MustServeMetrics()
		defer promSrv.Close()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	p := prompt.New()
	emitter := client.HumanReadable{Debug: *flagDebug}
	devices := []string(flagDevices)
	if len(devices) == 0 {
		devices = []string{"nvidia"}
	}
	config := client.Config{
		Server:        *flagServer,
		FFmpegDir:     *flagFFmpeg,
		VideoDir:      *flagVideos,
		Devices:       devices,
		GPU:           *flagGPU,
		MaxWorkers:    *flagMaxWorkers,
		WorkerTimeout: *flagWorkerTimeout,
		Emitter:       emitter,
	}
	if !*flagYes {
		config.Confirm = func() bool {
			return p.Confirm("Do you want to continue?")
		}
	}

	cl, err := client.New(clientName, version.Version, config)
	rtx.Must(err, "Invalid configuration")

	report, err := cl.Run(ctx)
	if errors.Is(err, client.ErrDeclined) {
		fmt.Println("Exiting...")
		return
	}
	if err != nil {
		fail(p, emitter, err)
	}

	if !*flagYes {
		fmt.Println()
		p.Pause("Benchmark Done. Press Enter to Output.")
	}
	if *flagOutput == "" || *flagOutput == "-" {
		fmt.Println()
		fmt.Println("No output file specified. Writing to stdout.")
		rtx.Must(persistence.Write(os.Stdout, report), "Could not write results")
	} else {
		df, err := persistence.WriteFile(*flagOutput, report)
		if err != nil {
			fail(p, emitter, err)
		}
		log.Debug("report saved", "path", df.Path, "size", df.Size)
		fmt.Printf("Data successfully saved to %s\n", df.Path)
	}

	if *flagSubmit {
		if err := cl.Submit(ctx, report); err != nil {
			fail(p, emitter, err)
		}
		fmt.Println("Results submitted.")
	}
}

// fail reports err and waits for the operator before exiting.
func fail(p *prompt.Prompter, e client.Emitter, err error) {
	e.OnError(err)
	if !*flagYes {
		p.Pause("Press Enter to exit")
	}
	os.Exit(1)
}
