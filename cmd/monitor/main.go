// The monitor daemon: consumes landmark frames from the detector
// sidecar, runs the processing engine, and serves the dashboard with
// live events. Optionally tees events to MQTT.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/oculab/go-oculab/internal/config"
	"github.com/oculab/go-oculab/internal/log"
	"github.com/oculab/go-oculab/pkg/blink"
	"github.com/oculab/go-oculab/pkg/distance"
	"github.com/oculab/go-oculab/pkg/engine"
	"github.com/oculab/go-oculab/pkg/landmarks"
	"github.com/oculab/go-oculab/pkg/notify"
	"github.com/oculab/go-oculab/pkg/protocol"
	"github.com/oculab/go-oculab/pkg/quality"
	"github.com/oculab/go-oculab/pkg/web"
)

func main() {
	config.Load()

	detectorURL := flag.String("detector", config.DetectorURL(), "Landmark detector websocket URL")
	port := flag.String("port", config.WebPort(), "Dashboard port")
	storePath := flag.String("store", config.StorePath(), "Calibration store path")
	mqttBroker := flag.String("mqtt", config.String("MQTT_BROKER", ""), "MQTT broker URL (empty to disable)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	log.Init(*logLevel)

	store := distance.NewFileStore(*storePath)
	estimator, err := distance.NewEstimator(distance.DefaultConfig(), store)
	if err != nil {
		log.Error("failed to load calibration store", "path", *storePath, "error", err)
		os.Exit(1)
	}

	eng, err := engine.NewEngine(engine.DefaultConfig(),
		blink.NewDetector(blink.DefaultConfig()),
		estimator,
		quality.NewMonitor(quality.DefaultConfig(), quality.NewCenterSampler(quality.DefaultConfig().CropFraction)))
	if err != nil {
		log.Error("failed to build engine", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("shutting down")
		cancel()
	}()

	server := web.NewServer(*port, eng)

	if *mqttBroker != "" {
		ncfg := notify.DefaultConfig()
		ncfg.Broker = *mqttBroker
		publisher, err := notify.NewPublisher(ncfg)
		if err != nil {
			log.Error("MQTT disabled", "error", err)
		} else {
			defer publisher.Close()
			server.OnEvent = func(msg *protocol.Message) {
				// Per-frame metrics stay off the broker; everything
				// else is worth a downstream notification.
				if msg.Type == protocol.TypeMetrics {
					return
				}
				if err := publisher.Publish(msg); err != nil {
					log.Warn("MQTT publish failed", "type", msg.Type, "error", err)
				}
			}
		}
	}

	go server.PumpEvents(ctx)
	server.StartAsync()
	defer server.Shutdown()

	source := landmarks.NewWSSource(*detectorURL)
	defer source.Close()

	log.Info("monitor started", "detector", *detectorURL, "port", *port)
	if err := eng.Run(ctx, source); err != nil && ctx.Err() == nil {
		log.Error("engine stopped", "error", err)
		os.Exit(1)
	}
}
