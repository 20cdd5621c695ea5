// The calibrate tool runs one distance calibration session against the
// detector sidecar and persists the resulting constant.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/oculab/go-oculab/internal/config"
	"github.com/oculab/go-oculab/internal/log"
	"github.com/oculab/go-oculab/pkg/blink"
	"github.com/oculab/go-oculab/pkg/distance"
	"github.com/oculab/go-oculab/pkg/engine"
	"github.com/oculab/go-oculab/pkg/landmarks"
	"github.com/oculab/go-oculab/pkg/protocol"
	"github.com/oculab/go-oculab/pkg/quality"
)

func main() {
	config.Load()

	detectorURL := flag.String("detector", config.DetectorURL(), "Landmark detector websocket URL")
	storePath := flag.String("store", config.StorePath(), "Calibration store path")
	targetCm := flag.Float64("target", distance.DefaultConfig().TargetCm, "Calibration distance in cm")
	flag.Parse()

	log.Init("warn")

	dcfg := distance.DefaultConfig()
	dcfg.TargetCm = *targetCm
	estimator, err := distance.NewEstimator(dcfg, distance.NewFileStore(*storePath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open calibration store: %v\n", err)
		os.Exit(1)
	}

	eng, err := engine.NewEngine(engine.DefaultConfig(),
		blink.NewDetector(blink.DefaultConfig()),
		estimator,
		quality.NewMonitor(quality.DefaultConfig(), nil))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build engine: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Printf("Hold your head steady %.0fcm from the camera...\n", *targetCm)

	if _, err := eng.StartCalibration(time.Now()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start calibration: %v\n", err)
		os.Exit(1)
	}

	failed := false
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-eng.Events():
				switch msg.Type {
				case protocol.TypeCalibrationProgress:
					if p, err := msg.GetCalibrationProgressData(); err == nil {
						fmt.Printf("\r  samples: %d/%d", p.Samples, p.Required)
					}
				case protocol.TypeCalibrationComplete:
					c, err := msg.GetCalibrationCompleteData()
					if err != nil {
						continue
					}
					fmt.Println()
					if c.Success {
						fmt.Printf("Calibrated: k=%.1f (median IOD %.1fpx at %.0fcm)\n",
							c.K, c.MedianIODPx, c.TargetCm)
					} else {
						failed = true
						fmt.Printf("Calibration failed: %s\n", c.Reason)
					}
				case protocol.TypeSessionComplete:
					return
				}
			}
		}
	}()

	source := landmarks.NewWSSource(*detectorURL)
	defer source.Close()

	if err := eng.Run(ctx, source); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "Detector stream failed: %v\n", err)
		os.Exit(1)
	}
	if failed {
		os.Exit(1)
	}
}
