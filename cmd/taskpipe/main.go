package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	stage "github.com/Ethan-cw/HighPerformanceComputing"
	"github.com/Ethan-cw/HighPerformanceComputing/config"
	"github.com/Ethan-cw/HighPerformanceComputing/executor"
	"github.com/Ethan-cw/HighPerformanceComputing/generator"
	"github.com/Ethan-cw/HighPerformanceComputing/monitor"
	"github.com/Ethan-cw/HighPerformanceComputing/topology"
	"github.com/Ethan-cw/HighPerformanceComputing/validator"
)

const usage = `usage: taskpipe [-config file] [-dot file] <generator|executor|validator|monitor|all>`

func main() {
	configPath := flag.String("config", "", "YAML configuration file")
	dotPath := flag.String("dot", "", "in all mode, write the role topology as Graphviz DOT to this file")
	flag.Usage = func() {
		fmt.Fprintln(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	mode := flag.Arg(0)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	level, _ := cfg.Level()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})).With("instance", uuid.NewString())
	slog.SetDefault(logger)

	mp, shutdownMetrics, err := newMeterProvider(cfg, os.Stdout)
	if err != nil {
		logger.Error("Exiting", "error", err)
		os.Exit(1)
	}
	opts := []stage.Option{stage.WithLogger(logger), stage.WithMeterProvider(mp)}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	if mode == "all" {
		err = runAll(ctx, cfg, *dotPath, logger, opts...)
	} else {
		err = runOne(ctx, cfg, mode, opts...)
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if shutdownErr := shutdownMetrics(shutdownCtx); shutdownErr != nil {
		logger.Warn("Failed to flush metrics", "error", shutdownErr)
	}
	cancel()

	if err != nil {
		logger.Error("Exiting", "error", err)
		os.Exit(1)
	}
}

func newRole(name string, cfg *config.Config, opts ...stage.Option) (stage.Role, error) {
	switch name {
	case generator.Name:
		return generator.New(cfg.GeneratorConfig(), opts...), nil
	case executor.Name:
		return executor.New(cfg.ExecutorConfig(), opts...), nil
	case validator.Name:
		return validator.New(cfg.ValidatorConfig(), opts...), nil
	case monitor.Name:
		return monitor.New(cfg.MonitorConfig(), opts...), nil
	default:
		return nil, fmt.Errorf("unknown role %q\n%s", name, usage)
	}
}

func runOne(ctx context.Context, cfg *config.Config, name string, opts ...stage.Option) error {
	role, err := newRole(name, cfg, opts...)
	if err != nil {
		return err
	}

	controller, err := stage.Initialize(role, opts...)
	if err != nil {
		return err
	}
	if err := controller.Start(); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case <-controller.Done():
	}
	return ignoreCancel(controller.Stop())
}

// runAll runs every role in this process, wired as the default topology.
func runAll(ctx context.Context, cfg *config.Config, dotPath string, logger *slog.Logger, opts ...stage.Option) error {
	vertices := topology.Default()
	ppl, err := topology.NewPipeline(vertices, logger)
	if err != nil {
		return err
	}

	if dotPath != "" {
		if err := dumpDot(ppl, dotPath); err != nil {
			return err
		}
	}

	for _, vertex := range vertices {
		role, err := newRole(vertex.Label, cfg, opts...)
		if err != nil {
			return err
		}
		if err := ppl.AddRole(vertex.Label, role, opts...); err != nil {
			return err
		}
	}

	if err := ppl.Initialize(); err != nil {
		return err
	}
	if err := ppl.Start(); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case <-ppl.Done():
	}
	return ignoreCancel(ppl.Stop())
}

func dumpDot(ppl *topology.Pipeline, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := ppl.DumpDot(file); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
