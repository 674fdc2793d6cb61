// Command fovea wires the Subspace Appearance Model tracker, the
// Autopilot Controller and their collaborators into a running process,
// in the same flags+env+signal shape as cmd/silenus/main.go.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/asgard/fovea/internal/autopilot"
	"github.com/asgard/fovea/internal/collaborators/framesrc"
	"github.com/asgard/fovea/internal/collaborators/modebus"
	"github.com/asgard/fovea/internal/collaborators/overlay"
	stickcollab "github.com/asgard/fovea/internal/collaborators/stick"
	"github.com/asgard/fovea/internal/platform/metrics"
	"github.com/asgard/fovea/internal/stick"
	"github.com/asgard/fovea/internal/tracking"
)

func main() {
	width := flag.Int("width", 640, "Frame width")
	height := flag.Int("height", 480, "Frame height")
	discRadius := flag.Int("sim-disc-radius", 32, "Simulated disc radius (used when -offline is set)")
	offline := flag.Bool("offline", getEnvBool("FOVEA_OFFLINE", true), "Use the in-process simulated FrameSource instead of WebRTC ingest")
	stickPort := flag.String("stick-port", os.Getenv("FOVEA_STICK_PORT"), "Serial port for the StickSink virtual controller (empty: log-only)")
	stickBaud := flag.Int("stick-baud", getEnvInt("FOVEA_STICK_BAUD", 115200), "Baud rate for the StickSink serial link")
	overlayAddr := flag.String("overlay-addr", ":8088", "Overlay WebSocket listen address")
	metricsAddr := flag.String("metrics-addr", ":9094", "Metrics server address")
	seed := flag.Int64("seed", 0, "Condensation PRNG seed (0: derive from current time)")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	log.Printf("Starting fovea tracker (%dx%d, offline=%v)", *width, *height, *offline)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := tracking.DefaultConfig()
	if *seed != 0 {
		cfg.Seed = *seed
	} else {
		cfg.Seed = time.Now().UnixNano()
	}

	overlayHub := overlay.NewHub(logger)
	go overlayHub.Run(ctx)

	var source tracking.FrameSource
	if *offline {
		sim := framesrc.NewSimulated(*width, *height, *discRadius)
		sim.SetOrbit(60, 0.02)
		source = sim
	} else {
		source = framesrc.NewWebRTCSource(*width, *height, nil, logger)
		logger.Warn("webrtc frame source configured without an attached PeerConnection or Decoder; Read will report FrameUnavailable until Attach is called")
	}

	var stickSink stick.Sink
	if *stickPort != "" {
		sender := stickcollab.NewSender(stickcollab.Config{Port: *stickPort, BaudRate: *stickBaud}, logger)
		if err := sender.Open(); err != nil {
			logger.WithError(err).Warn("stick sink serial port unavailable, falling back to log-only sink")
			stickSink = logOnlySink{logger: logger}
		} else {
			defer sender.Close()
			stickSink = sender
		}
	} else {
		stickSink = logOnlySink{logger: logger}
	}

	apCfg := autopilot.DefaultConfig()
	ap := autopilot.NewController(apCfg, stickSink, logger)
	ap.SetResolution(*width, *height)
	go ap.Run(ctx)

	sink := fanoutSink{overlay: overlayHub, autopilot: ap}
	orch := tracking.NewOrchestrator(cfg, source, sink, logger)
	go orch.Run(ctx)

	bus := modebus.NewBus(orch, ap, stickSink, *width, *height)
	if *offline {
		// No physical mode-axis transport in the offline demo: drive the
		// ModeBus directly to arm and start tracking, as an operator
		// flipping the three-position switch to TRACKING would.
		bus.ModeChanged(ctx, 1024)
	}

	mux := http.NewServeMux()
	mux.Handle("/overlay", overlayHub)
	go func() {
		logger.WithField("addr", *overlayAddr).Info("overlay websocket listening")
		if err := http.ListenAndServe(*overlayAddr, mux); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("overlay server stopped")
		}
	}()

	metricsServer := startMetricsServer(*metricsAddr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down fovea...")
	cancel()
	shutdownMetricsServer(metricsServer)
	time.Sleep(500 * time.Millisecond)
	log.Println("fovea stopped")
}

// fanoutSink implements tracking.TargetSink by publishing every report to
// both the overlay broadcaster and the Autopilot Controller's coalescing
// queue, so the tracker core stays ignorant of how many collaborators
// consume its output (spec.md §6's TargetSink is a single-method-set
// contract; nothing stops more than one subscriber behind it).
type fanoutSink struct {
	overlay   *overlay.Hub
	autopilot *autopilot.Controller
}

func (s fanoutSink) UpdateTarget(ctx context.Context, report tracking.TargetReport, ok bool) error {
	s.autopilot.PushTarget(report, ok)
	return s.overlay.UpdateTarget(ctx, report, ok)
}

func (s fanoutSink) UpdateReticleSize(ctx context.Context, size int) error {
	return s.overlay.UpdateReticleSize(ctx, size)
}

// logOnlySink is the StickSink fallback when no serial port is
// configured, matching the teacher's preference for a degraded local
// stand-in over a hard failure at startup (hal.Camera's mock fallback).
type logOnlySink struct {
	logger *logrus.Logger
}

func (s logOnlySink) Send(ctx context.Context, axis stick.Axis, value int) error {
	s.logger.WithFields(logrus.Fields{"axis": axis, "value": value}).Debug("stick event (log-only sink)")
	return nil
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if value == "" {
		return fallback
	}
	return value == "1" || value == "true" || value == "yes"
}

func getEnvInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}

func startMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Metrics server error: %v", err)
		}
	}()
	return server
}

func shutdownMetricsServer(server *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Metrics server shutdown error: %v", err)
	}
}
