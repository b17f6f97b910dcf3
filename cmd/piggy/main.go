// Piggy is a mood and period diary companion that chats.
//
// It serves a chat endpoint backed by a tool-calling language model that
// can record moods and cycles, recall memories and check the weather,
// plus a CLI for one-shot questions. Configuration is loaded from a
// single YAML file discovered automatically (see
// [config.DefaultSearchPaths]); without one, defaults and environment
// variables are used.
//
// Usage:
//
//	piggy serve              Start the API server
//	piggy init [dir]         Write a starter config.yaml and persona.md
//	piggy ask <message>      Run one chat turn and print the reply
//	piggy tools              Print the tool catalog as JSON
//	piggy version            Print version and build information
//	piggy -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/piggy-diary/piggy/internal/agent"
	"github.com/piggy-diary/piggy/internal/api"
	"github.com/piggy-diary/piggy/internal/buildinfo"
	"github.com/piggy-diary/piggy/internal/config"
	"github.com/piggy-diary/piggy/internal/llm"
	"github.com/piggy-diary/piggy/internal/mqtt"
	"github.com/piggy-diary/piggy/internal/tools"
	"github.com/piggy-diary/piggy/internal/trail"
)

// shutdownTimeout bounds HTTP draining and background task completion.
const shutdownTimeout = 10 * time.Second

// main only builds the OS-level environment and delegates to [run], so
// the whole lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Arguments are parsed by hand to keep
// flag globals out of the way of parallel tests. Structured logs go to
// stdout; fatal errors are returned for main to print.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: piggy ask <message>")
		}
		return runAsk(ctx, stdout, stderr, configPath, outputFmt, cmdArgs)
	case "tools":
		return runTools(stdout)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.BuildInfo()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// runTools prints the catalog exactly as it is sent to the model.
func runTools(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(tools.Definitions())
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Piggy - mood and period diary companion")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: piggy [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  init [dir]   Write starter config.yaml and persona.md (default: .)")
	fmt.Fprintln(w, "  ask          Run one chat turn and print the reply")
	fmt.Fprintln(w, "  tools        Print the tool catalog as JSON")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  "+strings.Join(config.DefaultSearchPaths(), ", "))
	return nil
}

// runAsk runs one chat turn through the full pipeline. With -o json the
// reply is printed in the same shape the chat endpoint returns.
func runAsk(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath, outputFmt string, args []string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(stderr, cfg)
	if err != nil {
		return err
	}
	logger.Debug("config loaded", "path", cfgPath)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	requestID := agent.NewRequestID()
	tr := trail.New(trail.DefaultCapacity, logger.With("request_id", requestID))
	res, err := a.loop.Run(trail.WithTrail(ctx, tr), &agent.Request{
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: strings.Join(args, " ")}},
		RequestID: requestID,
	})
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := a.runner.Wait(waitCtx); err != nil {
		logger.Warn("background tasks still running at exit", "error", err)
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetEscapeHTML(false)
		return enc.Encode(api.ChatReply{Reply: res.Reply, SystemPrompt: res.SystemPrompt, NeedsRefresh: res.NeedsRefresh})
	}
	fmt.Fprintln(stdout, res.Reply)
	return nil
}

// runServe loads config, wires the pipeline and serves until SIGINT or
// SIGTERM. Shutdown drains HTTP requests, stops the MQTT bridge, waits
// for background memory writes, then closes the stores.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(stdout, cfg)
	if err != nil {
		return err
	}
	logger.Info("starting Piggy", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)
	if cfgPath != "" {
		logger.Info("config loaded", "path", cfgPath)
	} else {
		logger.Info("no config file found, using defaults")
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	server := api.NewServer(api.Options{
		Address: cfg.Listen.Address,
		Port:    cfg.Listen.Port,
		Chat:    a.loop,
		Diary:   a.diary,
		Bus:     a.bus,
		Logger:  logger,
	})

	var bridge *mqtt.Bridge
	if cfg.MQTT.Enabled {
		instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
		if err != nil {
			return err
		}
		bridge = mqtt.New(cfg.MQTT, mqtt.ClientID(cfg.MQTT.ClientID, instanceID), a.bus, logger)
		logger.Info("mqtt bridge enabled", "broker", cfg.MQTT.Broker, "topic_prefix", cfg.MQTT.TopicPrefix)
	} else {
		logger.Info("mqtt bridge disabled (not configured)")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Start(gctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	if bridge != nil {
		g.Go(func() error {
			return bridge.Start(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
		if bridge != nil {
			if err := bridge.Stop(shutdownCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
		}
		if err := a.runner.Wait(shutdownCtx); err != nil {
			logger.Warn("background tasks did not finish", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Piggy stopped")
	return nil
}

// newLogger builds the process logger from the configured level and
// format.
func newLogger(w io.Writer, cfg *config.Config) (*slog.Logger, error) {
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return config.NewLogger(w, level, cfg.LogFormat), nil
}

// loadConfig locates and parses the YAML configuration. An explicit path
// must exist; with none and nothing discovered, defaults apply and the
// returned path is empty.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, "", err
		}
		cfg := config.Default()
		if err := cfg.Validate(); err != nil {
			return nil, "", err
		}
		return cfg, "", nil
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}
