package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"llamactl/internal/common/fsutil"
	"llamactl/internal/config"
	"llamactl/internal/download"
	"llamactl/internal/httpapi"
	"llamactl/internal/server"
)

// runOptions collects flag/env/file inputs before they become a server.Config.
type runOptions struct {
	configPath  string
	logLevel    string
	binaryPath  string
	modelPath   string
	repo        string
	filename    string
	workingDir  string
	port        int
	ctxSize     int
	parallel    int
	gpuLayers   int
	contBatch   bool
	timeoutSec  int
	controlAddr string
	noWait      bool
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newRootCmd() *cobra.Command {
	opts := &runOptions{}

	root := &cobra.Command{
		Use:           "llamactl",
		Short:         "Run and supervise a llama-server binary",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", envDefault("LLAMACTL_CONFIG", ""), "Config file (.yaml/.json/.toml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", envDefault("LLAMACTL_LOG_LEVEL", "info"), "Log level: debug|info|warn|error")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start llama-server, stream its output, stop it on SIGINT/SIGTERM",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer(cmd, opts)
		},
	}
	addServerFlags(runCmd, opts)
	runCmd.Flags().StringVar(&opts.controlAddr, "control-addr", envDefault("LLAMACTL_CONTROL_ADDR", ""), "Serve the control API (/healthz,/status,/metrics) on this address")
	runCmd.Flags().BoolVar(&opts.noWait, "no-wait", false, "Do not block until the server is ready")

	fetchCmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download the llama-server binary and model weights only",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return fetchResources(cmd, opts)
		},
	}
	addServerFlags(fetchCmd, opts)

	root.AddCommand(runCmd, fetchCmd)
	return root
}

func addServerFlags(cmd *cobra.Command, opts *runOptions) {
	cmd.Flags().StringVar(&opts.binaryPath, "binary", envDefault("LLAMACTL_BINARY", ""), "Path to the llama-server binary")
	cmd.Flags().StringVar(&opts.modelPath, "model", envDefault("LLAMACTL_MODEL", ""), "Path to the .gguf model weights")
	cmd.Flags().StringVar(&opts.repo, "repo", "", "HuggingFace repo, e.g. Qwen/Qwen2-0.5B-Instruct-GGUF")
	cmd.Flags().StringVar(&opts.filename, "filename", "", "Model filename within the repo")
	cmd.Flags().StringVar(&opts.workingDir, "working-dir", server.DefaultWorkingDir, "Directory for downloaded binary and weights")
	cmd.Flags().IntVar(&opts.port, "port", server.DefaultPort, "Port the subprocess listens on")
	cmd.Flags().IntVar(&opts.ctxSize, "ctx-size", server.DefaultCtxSize, "Context size per request")
	cmd.Flags().IntVar(&opts.parallel, "parallel", server.DefaultParallel, "Number of parallel request slots")
	cmd.Flags().IntVar(&opts.gpuLayers, "ngl", 0, "GPU layers to offload (-1 = all)")
	cmd.Flags().BoolVar(&opts.contBatch, "cont-batching", true, "Enable continuous batching")
	cmd.Flags().IntVar(&opts.timeoutSec, "timeout", int(server.DefaultStartTimeout/time.Second), "Readiness timeout in seconds")
}

// applyFile overlays opts with file config for every flag left at its default.
func applyFile(cmd *cobra.Command, opts *runOptions) error {
	if opts.configPath == "" {
		return nil
	}
	fc, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	set := func(name string) bool { return cmd.Flags().Changed(name) }
	if !set("binary") && fc.BinaryPath != "" {
		opts.binaryPath = fc.BinaryPath
	}
	if !set("model") && fc.ModelPath != "" {
		opts.modelPath = fc.ModelPath
	}
	if !set("repo") && fc.Repo != "" {
		opts.repo = fc.Repo
	}
	if !set("filename") && fc.Filename != "" {
		opts.filename = fc.Filename
	}
	if !set("working-dir") && fc.WorkingDir != "" {
		opts.workingDir = fc.WorkingDir
	}
	if !set("port") && fc.Port != 0 {
		opts.port = fc.Port
	}
	if !set("ctx-size") && fc.CtxSize != 0 {
		opts.ctxSize = fc.CtxSize
	}
	if !set("parallel") && fc.Parallel != 0 {
		opts.parallel = fc.Parallel
	}
	if !set("ngl") && fc.GPULayers != 0 {
		opts.gpuLayers = fc.GPULayers
	}
	if !set("cont-batching") && fc.ContBatching != nil {
		opts.contBatch = *fc.ContBatching
	}
	if !set("timeout") && fc.TimeoutSec != 0 {
		opts.timeoutSec = fc.TimeoutSec
	}
	if !set("control-addr") && fc.ControlAddr != "" {
		opts.controlAddr = fc.ControlAddr
	}
	if !set("log-level") && fc.LogLevel != "" {
		opts.logLevel = fc.LogLevel
	}
	return nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// buildServer picks the constructor: explicit paths when given, otherwise a
// HuggingFace download into the working dir.
func buildServer(ctx context.Context, opts *runOptions) (*server.Server, error) {
	if opts.binaryPath != "" || opts.modelPath != "" {
		bin, err := fsutil.ExpandHome(opts.binaryPath)
		if err != nil {
			return nil, err
		}
		model, err := fsutil.ExpandHome(opts.modelPath)
		if err != nil {
			return nil, err
		}
		return server.New(server.Config{
			BinaryPath:   bin,
			ModelPath:    model,
			Port:         opts.port,
			CtxSize:      opts.ctxSize,
			Parallel:     opts.parallel,
			GPULayers:    opts.gpuLayers,
			ContBatching: opts.contBatch,
		})
	}
	srv, err := server.NewFromHuggingFace(ctx, server.HFSpec{
		Repo:       opts.repo,
		Filename:   opts.filename,
		WorkingDir: opts.workingDir,
	})
	if err != nil {
		return nil, err
	}
	cfg := srv.Config()
	cfg.Port = opts.port
	cfg.CtxSize = opts.ctxSize
	cfg.Parallel = opts.parallel
	cfg.GPULayers = opts.gpuLayers
	cfg.ContBatching = opts.contBatch
	return server.New(cfg)
}

func runServer(cmd *cobra.Command, opts *runOptions) error {
	if err := applyFile(cmd, opts); err != nil {
		return err
	}
	logger := newLogger(opts.logLevel)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	srv, err := buildServer(ctx, opts)
	if err != nil {
		return err
	}
	srv.SetLogger(logger)

	if err := srv.Start(ctx, server.StartOptions{
		NoWait:  opts.noWait,
		Timeout: time.Duration(opts.timeoutSec) * time.Second,
	}); err != nil {
		// A dead or unready subprocess must not leak past the CLI.
		srv.Stop()
		return err
	}
	if opts.noWait {
		logger.Info().Str("base_url", srv.BaseURL()).Msg("llama-server started")
	} else {
		logger.Info().Str("base_url", srv.BaseURL()).Msg("llama-server ready")
	}

	var control *http.Server
	if opts.controlAddr != "" {
		control = &http.Server{Addr: opts.controlAddr, Handler: httpapi.NewMux(srv)}
		go func() {
			logger.Info().Str("addr", opts.controlAddr).Msg("control API listening")
			if err := control.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("control API failed")
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	srv.Stop()
	if control != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = control.Shutdown(sctx)
	}
	return nil
}

func fetchResources(cmd *cobra.Command, opts *runOptions) error {
	if err := applyFile(cmd, opts); err != nil {
		return err
	}
	logger := newLogger(opts.logLevel)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	wd, err := fsutil.ExpandHome(opts.workingDir)
	if err != nil {
		return err
	}
	bin := filepath.Join(wd, "llama-server")
	if err := download.Binary(ctx, bin); err != nil {
		return err
	}
	logger.Info().Str("path", bin).Msg("binary in place")
	if opts.repo == "" && opts.filename == "" {
		return nil
	}
	model := filepath.Join(wd, opts.filename)
	if err := download.Model(ctx, model, opts.repo, opts.filename); err != nil {
		return err
	}
	logger.Info().Str("path", model).Msg("model weights in place")
	return nil
}
