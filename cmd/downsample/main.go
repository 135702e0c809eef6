// Command downsample thins every container of one subject directory to a
// minimum gap between tracking records.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/mocap.report/internal/batch"
	"github.com/banshee-data/mocap.report/internal/config"
	"github.com/banshee-data/mocap.report/internal/ledger"
	"github.com/banshee-data/mocap.report/internal/version"
)

const toolName = "downsample"

var (
	subjectName  = flag.String("subject_name", "", "Directory of containers or .bag files for one subject (required)")
	outputFolder = flag.String("output_folder", "", "Root directory for downsampled output (required)")
	gapSeconds   = flag.Float64("gap", 0.016, "Minimum gap between kept records, in seconds")
	topic        = flag.String("topic", "", "Tracking topic to keep (default from config, else /natnet_node/natnet_frame)")
	configPath   = flag.String("config", "", "Optional JSON config file")
	ledgerPath   = flag.String("ledger", "", "Optional sqlite database recording runs and takes")
	plot         = flag.Bool("plot", false, "Write an interval histogram next to each output file")
	showVersion  = flag.Bool("version", false, "Print version and exit")
)

// settings are the resolved options for one run.
type settings struct {
	gap   time.Duration
	topic string
}

// resolveSettings applies explicitly set flags over cfg, and cfg over the
// built-in defaults.
func resolveSettings(cfg *config.PipelineConfig, set map[string]bool) (settings, error) {
	s := settings{gap: cfg.GetGap(), topic: cfg.GetTopic()}
	if set["gap"] {
		if *gapSeconds < 0 {
			return s, fmt.Errorf("-gap must be non-negative, got %v", *gapSeconds)
		}
		s.gap = config.SecondsToDuration(*gapSeconds)
	}
	if set["topic"] && *topic != "" {
		s.topic = *topic
	}
	return s, nil
}

func explicitFlags() map[string]bool {
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

func run(ctx context.Context) error {
	if *subjectName == "" || *outputFolder == "" {
		return fmt.Errorf("-subject_name and -output_folder are required")
	}

	cfg := config.EmptyConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadConfig(*configPath); err != nil {
			return err
		}
	}
	s, err := resolveSettings(cfg, explicitFlags())
	if err != nil {
		return err
	}

	opts := batch.DownsampleOptions{Gap: s.gap, Topic: s.topic, Plot: *plot}
	var l *ledger.Ledger
	if *ledgerPath != "" {
		if l, err = ledger.Open(*ledgerPath, nil); err != nil {
			return err
		}
		defer l.Close()
		r, err := l.StartRun(toolName, *subjectName, *outputFolder)
		if err != nil {
			return err
		}
		opts.Ledger, opts.RunID = l, r.ID
	}

	log.Printf("downsampling %s with gap %v on %s", *subjectName, s.gap, s.topic)
	sum, err := batch.DownsampleSubject(ctx, *subjectName, *outputFolder, opts)
	if l != nil {
		if ferr := l.FinishRun(opts.RunID, sum.Processed(), sum.Failed()); ferr != nil {
			log.Printf("ledger: %v", ferr)
		}
	}
	return finish(sum, err)
}

func finish(sum batch.Summary, err error) error {
	log.Printf("%s: processed %d files, %d failed", toolName, sum.Processed(), sum.Failed())
	if err != nil {
		return err
	}
	return sum.Err()
}

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version.String(toolName))
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		stop()
		log.Fatalf("%s: %v", toolName, err)
	}
}
