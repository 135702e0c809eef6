// Command gen-takes generates sample containers for exercising downsample and
// export-frames.
package main

import (
	"flag"
	"fmt"
	"log"
	"path/filepath"

	"github.com/banshee-data/mocap.report/internal/fsutil"
	"github.com/banshee-data/mocap.report/internal/mocap"
	"github.com/banshee-data/mocap.report/internal/mocap/container"
	"github.com/banshee-data/mocap.report/internal/objects"
)

// noiseTopic carries filler records that both tools must ignore.
const noiseTopic = "/camera/color/image_raw"

func main() {
	output := flag.String("o", "sample_subject", "output directory")
	takes := flag.Int("takes", 3, "number of containers")
	frames := flag.Int("n", 600, "frames per container")
	rate := flag.Float64("rate", 120, "frame rate in Hz")
	seed := flag.Int64("seed", 1, "random seed")
	flag.Parse()

	bodies := objects.DefaultCatalog().Names()
	for i := 0; i < *takes; i++ {
		path := filepath.Join(*output, fmt.Sprintf("take_%03d%s", i, container.FileExtension))
		if err := writeTake(fsutil.OSFileSystem{}, path, bodies, *frames, *rate, *seed+int64(i)); err != nil {
			log.Fatalf("failed to write %s: %v", path, err)
		}
		log.Printf("created %s", path)
	}
}

func writeTake(fsys fsutil.FileSystem, path string, bodies []string, frames int, rate float64, seed int64) error {
	w, err := container.Create(fsys, path)
	if err != nil {
		return err
	}

	gen := mocap.NewSyntheticGenerator(bodies, 1_700_000_000_000_000_000, seed)
	gen.FrameRate = rate
	for n := 0; n < frames; n++ {
		rec := gen.NextRecord()
		if err := w.Write(rec); err != nil {
			w.Close()
			return err
		}
		if n%4 == 0 {
			noise := mocap.Record{Topic: noiseTopic, TimestampNanos: rec.TimestampNanos, Payload: []byte{byte(n)}}
			if err := w.Write(noise); err != nil {
				w.Close()
				return err
			}
		}
	}
	return w.Close()
}
