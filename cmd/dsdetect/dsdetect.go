package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/akamensky/argparse"
	"github.com/coreos/go-systemd/daemon"
	"github.com/cyclopcam/logs"
	"github.com/edgevision/dsdetect/pkg/gstrun"
	"github.com/edgevision/dsdetect/pkg/inferconfig"
	"github.com/edgevision/dsdetect/pkg/labels"
	"github.com/edgevision/dsdetect/pkg/monitor"
	"github.com/edgevision/dsdetect/pkg/pipeline"
	"github.com/edgevision/dsdetect/pkg/rtspserver"
)

const (
	defaultLabelsPath  = "/models/labels.txt"
	defaultConfigPath  = "/opt/nvidia/deepstream/deepstream/samples/configs/deepstream-app/config_infer_primary.txt"
	defaultScratchPath = "/tmp/config_infer_filtered.txt"
	mountPath          = "/ds-detect"
)

// Flag defaults come from the environment, so the program can be configured
// either way (containers use the env vars).
func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func defaultSource() string {
	if v := os.Getenv("GST_DEVICE"); v != "" {
		return v
	}
	if v := os.Getenv("RTSP_URL"); v != "" {
		return v
	}
	return "test"
}

func main() {
	parser := argparse.NewParser("dsdetect", "GPU-accelerated object detection pipeline")
	source := parser.String("s", "source", &argparse.Options{Help: "Video source (rtsp/http URL, /dev/video* device, video file, or 'test')", Default: defaultSource()})
	object := parser.String("o", "object", &argparse.Options{Help: "Object class to detect", Default: envOr("DETECT_OBJECT", "person")})
	configPath := parser.String("c", "config", &argparse.Options{Help: "Base detector config file", Default: envOr("MODEL_CONFIG", defaultConfigPath)})
	labelsPath := parser.String("l", "labels", &argparse.Options{Help: "Class label file (one label per line)", Default: envOr("LABELS_FILE", defaultLabelsPath)})
	scratchPath := parser.String("", "scratch", &argparse.Options{Help: "Where to write the filtered detector config", Default: defaultScratchPath})
	display := parser.String("", "display", &argparse.Options{Help: "Show detections in a local window (true/false)", Default: envOr("SHOW_DISPLAY", "true")})
	restream := parser.String("", "rtsp-output", &argparse.Options{Help: "Restream detections over RTSP (any non-empty value enables)", Default: os.Getenv("RTSP_OUTPUT")})
	port := parser.Int("", "rtsp-port", &argparse.Options{Help: "RTSP restream port", Default: envOrInt("RTSP_OUTPUT_PORT", 8555)})
	width := parser.Int("", "width", &argparse.Options{Help: "Output width", Default: envOrInt("OUTPUT_WIDTH", 1920)})
	height := parser.Int("", "height", &argparse.Options{Help: "Output height", Default: envOrInt("OUTPUT_HEIGHT", 1080)})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	// Resolve the target class and rewrite the detector config. Every failure in
	// here degrades to "no filtering" so that the pipeline still runs.
	effectiveConfig := *configPath
	filtered := false
	if forced := os.Getenv("FILTER_CLASS_ID"); forced != "" {
		classID, err := strconv.Atoi(forced)
		if err != nil {
			logger.Errorf("Invalid FILTER_CLASS_ID %q: %v", forced, err)
			os.Exit(1)
		}
		if inferconfig.GenerateForClass(logger, classID, *configPath, *scratchPath) {
			effectiveConfig = *scratchPath
			filtered = true
			logger.Infof("Class filtering: ENABLED - Only showing class %v detections", classID)
		}
	} else if idx, err := labels.Load(*labelsPath); err != nil {
		logger.Warnf("Could not read label file %v: %v. Class filtering disabled.", *labelsPath, err)
	} else {
		path, _, enabled := inferconfig.GenerateFiltered(logger, idx, *object, *configPath, *scratchPath)
		effectiveConfig = path
		filtered = enabled
		if enabled {
			logger.Infof("Class filtering: ENABLED - Only showing '%v' detections", *object)
		}
	}
	if !filtered {
		logger.Infof("Class filtering: DISABLED - Showing all detections")
	}

	desc, err := pipeline.Build(pipeline.Options{
		Source:         *source,
		ConfigPath:     effectiveConfig,
		Width:          *width,
		Height:         *height,
		EnableRestream: *restream != "",
		EnableDisplay:  strings.EqualFold(*display, "true"),
	})
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}

	logger.Infof("DeepStream object detection pipeline")
	logger.Infof("  Input: %v (%v)", *source, desc.Source)
	logger.Infof("  Target object: %v", *object)
	logger.Infof("  Detector config: %v", effectiveConfig)
	logger.Infof("  Output: %v", desc.Output)
	logger.Infof("  Pipeline: %v", desc.Launch)
	if desc.Output == pipeline.OutputNetworkRestream {
		logger.Infof("  RTSP stream: rtsp://localhost:%v%v", *port, mountPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	daemon.SdNotify(false, daemon.SdNotifyReady)

	if desc.Output == pipeline.OutputNetworkRestream {
		server := rtspserver.NewServer(logger, gstrun.Open, desc, *port, mountPath)
		if err := server.Run(ctx); err != nil {
			logger.Errorf("%v", err)
			os.Exit(1)
		}
		return
	}

	graph, err := gstrun.Open(desc.Launch)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	mon := monitor.NewMonitor(logger, graph)
	if err := mon.Run(ctx); err != nil {
		// Already logged by the monitor; exit code is the signal to the supervisor.
		os.Exit(1)
	}
}
