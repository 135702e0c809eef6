// Command export-frames converts each container in a directory into a take
// of per-frame 3D bounding-box annotations.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/banshee-data/mocap.report/internal/annotate"
	"github.com/banshee-data/mocap.report/internal/batch"
	"github.com/banshee-data/mocap.report/internal/config"
	"github.com/banshee-data/mocap.report/internal/ledger"
	"github.com/banshee-data/mocap.report/internal/objects"
	"github.com/banshee-data/mocap.report/internal/version"
)

const toolName = "export-frames"

var (
	inputFolder  = flag.String("input_folder", "", "Directory of containers or .bag files, one take each (required)")
	outputFolder = flag.String("output_folder", "", "Root directory for take_<N>/3d_objects output (required)")
	objectsPath  = flag.String("objects", "", "Object catalog JSON (default: built-in catalog)")
	onInvalid    = flag.String("on_invalid", "fail", "What to do with unmapped or malformed rigid bodies: fail or skip")
	configPath   = flag.String("config", "", "Optional JSON config file")
	ledgerPath   = flag.String("ledger", "", "Optional sqlite database recording runs and takes")
	chart        = flag.Bool("chart", false, "Write a trajectory chart into each take directory")
	showVersion  = flag.Bool("version", false, "Print version and exit")
)

type settings struct {
	catalog *objects.Catalog
	policy  annotate.Policy
	topic   string
}

// resolveSettings applies explicitly set flags over cfg, and cfg over the
// built-in defaults.
func resolveSettings(cfg *config.PipelineConfig, set map[string]bool) (settings, error) {
	s := settings{policy: cfg.GetOnInvalid(), topic: cfg.GetTopic()}
	if set["on_invalid"] {
		p, err := annotate.ParsePolicy(*onInvalid)
		if err != nil {
			return s, fmt.Errorf("-on_invalid: %w", err)
		}
		s.policy = p
	}

	path := cfg.GetObjectsPath()
	if set["objects"] {
		path = *objectsPath
	}
	if path == "" {
		s.catalog = objects.DefaultCatalog()
		return s, nil
	}
	cat, err := objects.LoadCatalog(path)
	if err != nil {
		return s, err
	}
	s.catalog = cat
	return s, nil
}

func explicitFlags() map[string]bool {
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

func run(ctx context.Context) error {
	if *inputFolder == "" || *outputFolder == "" {
		return fmt.Errorf("-input_folder and -output_folder are required")
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

	opts := batch.ExportOptions{Catalog: s.catalog, Policy: s.policy, Topic: s.topic, Chart: *chart}
	var l *ledger.Ledger
	if *ledgerPath != "" {
		if l, err = ledger.Open(*ledgerPath, nil); err != nil {
			return err
		}
		defer l.Close()
		r, err := l.StartRun(toolName, *inputFolder, *outputFolder)
		if err != nil {
			return err
		}
		opts.Ledger, opts.RunID = l, r.ID
	}

	log.Printf("exporting %s with %d catalog objects, on_invalid=%s", *inputFolder, s.catalog.Len(), s.policy)
	sum, err := batch.ExportTakes(ctx, *inputFolder, *outputFolder, opts)
	if l != nil {
		if ferr := l.FinishRun(opts.RunID, sum.Processed(), sum.Failed()); ferr != nil {
			log.Printf("ledger: %v", ferr)
		}
	}

	log.Printf("%s: processed %d takes, %d failed", toolName, sum.Processed(), sum.Failed())
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
