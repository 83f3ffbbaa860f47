package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"ragshell/backend/internal/bootstrap"
	"ragshell/backend/internal/config"
	"ragshell/backend/internal/engine"
	"ragshell/backend/internal/observability"
)

const envFrontendDir = "RAGSHELL_FRONTEND_DIR"

func resolveFrontendDir() (string, error) {
	candidates := []string{
		os.Getenv(envFrontendDir),
		"frontend",
		"../frontend",
		"../../frontend",
	}

	for _, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		abs, err := filepath.Abs(candidate)
		if err != nil {
			continue
		}
		info, err := os.Stat(abs)
		if err == nil && info.IsDir() {
			return abs, nil
		}
	}

	return "", fmt.Errorf("frontend directory not found, set %s", envFrontendDir)
}

type flags struct {
	configPath  string
	title       string
	embeddedDir string
	dataDir     string
	logLevel    string
	devReload   bool
}

func parseFlags(fset *flag.FlagSet, args []string) (flags, error) {
	var f flags
	fset.StringVar(&f.configPath, "config", "", "Path to a TOML config file")
	fset.StringVar(&f.title, "title", "RAG Shell", "Window title")
	fset.StringVar(&f.embeddedDir, "embedded", "", "Directory holding the engine's logic module")
	fset.StringVar(&f.dataDir, "data-dir", "", "Directory for engine and task databases")
	fset.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	fset.BoolVar(&f.devReload, "dev-reload", false, "Expose ReloadEngine for development")
	err := fset.Parse(args)
	return f, err
}

// applyFlags overrides cfg with the flags that were set explicitly.
func applyFlags(fset *flag.FlagSet, f flags, cfg *config.Config) {
	fset.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "embedded":
			cfg.EmbeddedDir = f.embeddedDir
		case "data-dir":
			cfg.DataDir = f.dataDir
		case "log-level":
			cfg.LogLevel = f.logLevel
		case "dev-reload":
			cfg.DevReload = f.devReload
		}
	})
}

func main() {
	fset := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	f, _ := parseFlags(fset, os.Args[1:])

	cfg, err := config.Load(f.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	applyFlags(fset, f, &cfg)
	observability.Configure(observability.Options{Level: cfg.LogLevel, File: cfg.LogFile})

	host, err := bootstrap.New(cfg)
	if err != nil {
		observability.Fatal("host_init_failed", map[string]any{"reason": err.Error()})
	}
	if err := host.Start(); err != nil {
		fields := map[string]any{"reason": err.Error()}
		var startup *engine.StartupError
		if errors.As(err, &startup) {
			fields["module"] = host.Runtime.Module()
		}
		_ = host.Close()
		observability.Fatal("engine_startup_failed", fields)
	}

	app := NewApp(host)

	frontendDir, err := resolveFrontendDir()
	if err != nil {
		observability.Fatal("frontend_resolve_failed", map[string]any{"reason": err.Error()})
	}

	assets := os.DirFS(frontendDir)
	if _, err := fs.Stat(assets, "index.html"); err != nil {
		observability.Fatal("frontend_index_missing", map[string]any{"dir": frontendDir, "reason": err.Error()})
	}

	err = wails.Run(&options.App{
		Title:         f.title,
		Width:         1180,
		Height:        800,
		MinWidth:      900,
		MinHeight:     640,
		DisableResize: false,
		AssetServer:   &assetserver.Options{Assets: assets},
		OnStartup:     app.startup,
		OnShutdown:    app.shutdown,
		Bind:          []any{app},
	})
	if err != nil {
		observability.Fatal("wails_run_failed", map[string]any{"reason": err.Error()})
	}
}
