// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command gnosis runs the scholarly search service.
//
// Usage:
//
//	gnosis serve --config gnosis.yaml
//	gnosis sweep --config gnosis.yaml
//	gnosis version
package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/gnosis/pkg/config"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Serve   ServeCmd   `cmd:"" help:"Start the search service."`
	Sweep   SweepCmd   `cmd:"" help:"Run one expired-cache sweep and exit."`

	Config   string `short:"c" help:"Path to config file." type:"path" default:"gnosis.yaml"`
	LogLevel string `help:"Log level (debug, info, warn, error)."`
}

// logLevel is adjustable at runtime by config hot reload.
var logLevel = new(slog.LevelVar)

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("gnosis version %s\n", serverVersion())
	return nil
}

func serverVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			return info.Main.Version
		}
	}
	return "dev"
}

// initLogger installs the process-wide slog handler.
func initLogger(cfg *config.LoggingConfig, override string) {
	level := cfg.Level
	if override != "" {
		level = override
	}
	logLevel.Set(parseLevel(level))

	opts := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// loadConfig reads .env, then the YAML config with env expansion.
func loadConfig(path string) (*config.Config, *config.Loader, error) {
	config.LoadDotEnv()

	loader, err := config.NewLoader(path)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	cfg.Version = serverVersion()
	return cfg, loader, nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("gnosis"),
		kong.Description("AI-assisted search over a multi-tradition text library."),
		kong.UsageOnError(),
	)
	if err := ctx.Run(&cli); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
