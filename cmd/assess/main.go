// The assess tool runs one blink assessment session against the
// detector sidecar and prints the result as JSON.
package main

import (
	"context"
	"encoding/json"
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
	duration := flag.Duration("duration", 30*time.Second, "Assessment length (clamped to 20s-45s)")
	flag.Parse()

	log.Init("warn")

	estimator, err := distance.NewEstimator(distance.DefaultConfig(), distance.NewFileStore(*storePath))
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

	if _, err := eng.StartAssessment(time.Now(), *duration); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start assessment: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "Assessing for %s, look at the screen normally...\n", *duration)

	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-eng.Events():
				if msg.Type != protocol.TypeSessionComplete {
					continue
				}
				sc, err := msg.GetSessionCompleteData()
				if err != nil {
					continue
				}
				var result engine.AssessmentResult
				if err := json.Unmarshal(sc.Result, &result); err != nil {
					fmt.Fprintf(os.Stderr, "Bad session result: %v\n", err)
					return
				}
				out, _ := json.MarshalIndent(result, "", "  ")
				fmt.Println(string(out))
				return
			}
		}
	}()

	source := landmarks.NewWSSource(*detectorURL)
	defer source.Close()

	if err := eng.Run(ctx, source); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "Detector stream failed: %v\n", err)
		os.Exit(1)
	}
}
