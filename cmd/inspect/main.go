package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-inspect/annotate"
	"github.com/nvr-ai/go-inspect/camera"
	"github.com/nvr-ai/go-inspect/config"
	"github.com/nvr-ai/go-inspect/controller"
	"github.com/nvr-ai/go-inspect/inference"
	"github.com/nvr-ai/go-inspect/inference/providers"
	"github.com/nvr-ai/go-inspect/logger"
	"github.com/nvr-ai/go-inspect/metrics"
	"github.com/nvr-ai/go-inspect/web"
)

const shutdownTimeout = 10 * time.Second

func main() {
	var (
		configPath string
		envFile    string
		imagePath  string
		provider   string
		addr       string
	)
	flag.StringVar(&configPath, "config", "", "Path to YAML configuration file")
	flag.StringVar(&envFile, "env-file", ".env", "Path to .env file with secrets")
	flag.StringVar(&imagePath, "image", "", "Serve a still image instead of the camera")
	flag.StringVar(&provider, "provider", "", "Detection provider (roboflow, onnx)")
	flag.StringVar(&addr, "addr", "", "HTTP listen address")
	flag.Parse()

	if err := config.LoadDotEnv(envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Flags take precedence over file and environment.
	if imagePath != "" {
		os.Setenv("INSPECT_CAMERA_IMAGE", imagePath)
	}
	if provider != "" {
		os.Setenv("INSPECT_PROVIDER", provider)
	}
	if addr != "" {
		os.Setenv("INSPECT_WEB_ADDR", addr)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("inspect exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	detector, err := newProvider(cfg.Provider, log)
	if err != nil {
		return err
	}
	if closer, ok := detector.(io.Closer); ok {
		defer closer.Close()
	}

	style, err := annotate.ParseStyle(cfg.Render.Stroke, cfg.Render.LineWidth, cfg.Render.LabelHeight)
	if err != nil {
		return err
	}

	orch, err := controller.New(controller.Options{
		Camera:   newCamera(cfg.Camera, log),
		Provider: detector,
		Renderer: annotate.NewRenderer(style),
		Surface:  annotate.NewCanvas(cfg.Pipeline.FrameSize, cfg.Pipeline.FrameSize),
		Logger:   log,
		Metrics:  m,
		Config: controller.Config{
			FrameSize:     cfg.Pipeline.FrameSize,
			RowProximity:  cfg.Pipeline.RowProximity,
			DebounceDelay: cfg.Pipeline.Debounce,
			ClassAware:    cfg.Pipeline.ClassAware,
			Thresholds:    cfg.Pipeline.Thresholds(),
		},
	})
	if err != nil {
		return errors.Wrap(err, "failed to create orchestrator")
	}
	defer orch.Close()

	if err := orch.Start(ctx); err != nil {
		log.Warn("camera unavailable, reset from the display to retry", "error", err)
	}

	server := web.NewServer(web.Config{Addr: cfg.Web.Addr}, orch, m, log)
	if err := server.Start(ctx); err != nil {
		return err
	}

	log.Info("inspection station ready",
		"address", cfg.Web.Addr,
		"provider", detector.Name(),
		"frame_size", cfg.Pipeline.FrameSize)

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Stop(shutdownCtx)
}

func newProvider(cfg config.ProviderConfig, log *logger.Logger) (inference.Provider, error) {
	switch cfg.Kind {
	case config.ProviderONNX:
		p, err := providers.NewONNX(cfg.ONNX, log)
		if err != nil {
			return nil, err
		}
		return p, nil
	case config.ProviderRoboflow:
		p, err := providers.NewRoboflow(cfg.Roboflow, log)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, errors.Errorf("unknown provider kind %q", cfg.Kind)
	}
}

func newCamera(cfg camera.Config, log *logger.Logger) controller.Capturer {
	if cfg.Image != "" {
		log.Info("using still image instead of camera", "path", cfg.Image)
		return camera.NewStill(cfg.Image)
	}
	return camera.NewDevice(cfg, log)
}
