// Package main is the entry point for the JSON Remodeler command line tool.
// It parses flags, loads configuration, and dispatches to the requested
// mode: inline remodeling, batch preparation, batch inspection, run
// history, or the HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/router-for-me/JSONRemodeler/internal/buildinfo"
	"github.com/router-for-me/JSONRemodeler/internal/cmd"
	"github.com/router-for-me/JSONRemodeler/internal/config"
	"github.com/router-for-me/JSONRemodeler/internal/logging"
)

var (
	Version           = "dev"
	Commit            = "none"
	BuildDate         = "unknown"
	DefaultConfigPath = "config.yaml"
)

// init initializes the shared logger setup.
func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	// Command-line flags to control the application's behavior.
	var configPath string
	var inputPath string
	var instructions string
	var instructionsFile string
	var outputPath string
	var modelOverride string
	var tokenBudget int
	var dryRun bool

	var prepareBatch bool
	var batchPath string
	var inspectBatch string

	var serveMode bool
	var showHistory bool
	var historyLimit int
	var jsonOutput bool

	var showVersion bool
	var debugMode bool

	flag.StringVar(&configPath, "config", DefaultConfigPath, "Configuration file path")
	flag.StringVar(&inputPath, "input", "", "Input JSON document to remodel")
	flag.StringVar(&instructions, "instructions", "", "Inline rewrite instructions")
	flag.StringVar(&instructionsFile, "instructions-file", "", "File containing rewrite instructions")
	flag.StringVar(&outputPath, "output", "", "Output path (default: input name with .remodeled.json)")
	flag.StringVar(&modelOverride, "model", "", "Override the collaborator model")
	flag.IntVar(&tokenBudget, "token-budget", 0, "Override the array extraction token budget")
	flag.BoolVar(&dryRun, "dry-run", false, "Print the work unit plan and exit without calling the collaborator")
	flag.BoolVar(&prepareBatch, "prepare-batch", false, "Write an NDJSON batch file instead of processing inline")
	flag.StringVar(&batchPath, "batch-file", "", "Batch file path (used with -prepare-batch)")
	flag.StringVar(&inspectBatch, "inspect-batch", "", "Summarize a batch file and exit")
	flag.BoolVar(&serveMode, "serve", false, "Run the HTTP API server")
	flag.BoolVar(&showHistory, "history", false, "Show recent runs and exit")
	flag.IntVar(&historyLimit, "n", cmd.DefaultHistoryLimit, "Number of runs to show (used with -history)")
	flag.BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	flag.BoolVar(&showVersion, "version", false, "Show version and exit")
	flag.BoolVar(&debugMode, "debug", false, "Enable debug logging")

	flag.CommandLine.Usage = func() {
		out := flag.CommandLine.Output()
		_, _ = fmt.Fprintf(out, "Usage of %s\n", os.Args[0])
		flag.CommandLine.VisitAll(func(f *flag.Flag) {
			s := fmt.Sprintf("  -%s", f.Name)
			name, unquoteUsage := flag.UnquoteUsage(f)
			if name != "" {
				s += " " + name
			}
			if len(s) <= 4 {
				s += "\t"
			} else {
				s += "\n    "
			}
			if unquoteUsage != "" {
				s += unquoteUsage
			}
			if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" {
				s += fmt.Sprintf(" (default %s)", f.DefValue)
			}
			_, _ = fmt.Fprint(out, s+"\n")
		})
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("JSON Remodeler Version: %s, Commit: %s, BuiltAt: %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)
		return
	}
	if len(os.Args) == 1 {
		flag.Usage()
		return
	}

	if wd, errWd := os.Getwd(); errWd == nil {
		if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil {
			log.Debugf("no .env file loaded: %v", errLoad)
		}
	}

	// Load configuration. The default path may be absent; explicit paths
	// must exist.
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !flagWasSet("config") {
			log.Debugf("configuration file %s not found, using defaults", configPath)
			cfg = config.Default()
		} else {
			log.Errorf("failed to load config: %v", err)
			os.Exit(1)
		}
	}

	// CLI flags override file configuration.
	if modelOverride != "" {
		cfg.Model = modelOverride
	}
	if tokenBudget > 0 {
		cfg.TokenBudget = tokenBudget
	}
	if debugMode {
		cfg.Debug = true
	}

	logging.SetDebug(cfg.Debug)
	logging.ConfigureLogOutput(cfg.LoggingToFile, filepath.Join(filepath.Dir(configPath), "logs"), cfg.GetLogMaxSizeMB())

	log.Debugf("JSON Remodeler Version: %s, Commit: %s, BuiltAt: %s", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)

	ctx := context.Background()
	switch {
	case inspectBatch != "":
		err = cmd.RunInspectBatch(inspectBatch, jsonOutput)
	case showHistory:
		err = cmd.RunHistory(ctx, cfg, configPath, historyLimit, jsonOutput)
	case serveMode:
		err = cmd.RunServe(cfg, configPath)
	case prepareBatch:
		err = cmd.RunPrepareBatch(ctx, cfg, configPath, cmd.BatchOptions{
			InputPath:        inputPath,
			InstructionsPath: instructionsFile,
			Instructions:     instructions,
			BatchPath:        batchPath,
		})
	default:
		err = cmd.RunRemodel(ctx, cfg, configPath, cmd.RemodelOptions{
			InputPath:        inputPath,
			InstructionsPath: instructionsFile,
			Instructions:     instructions,
			OutputPath:       outputPath,
			DryRun:           dryRun,
		})
	}
	if err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}

// flagWasSet reports whether a flag was given explicitly on the command line.
func flagWasSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
