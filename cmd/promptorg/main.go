package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/hpungsan/promptorg/internal/config"
	"github.com/hpungsan/promptorg/internal/db"
	"github.com/hpungsan/promptorg/internal/llm"
	"github.com/hpungsan/promptorg/internal/logger"
	"github.com/hpungsan/promptorg/internal/mcp"
	"github.com/hpungsan/promptorg/internal/ops"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"prompt": true, "category": true, "settings": true,
	"estimate": true, "organize": true, "pending": true,
	"review": true, "template": true, "mcp": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	// Known subcommand → CLI
	if cliCommands[arg] {
		return true
	}
	// --help or --version → CLI
	if arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" {
		return true
	}
	return false // Default → MCP server
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
  promptorg

  Turns your most used prompts into reusable templates

  Usage: promptorg <command> [options]
         promptorg --help

  MCP server mode requires piped input.`)
}

func fail(format string, args ...any) int {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	return 1
}

func main() {
	os.Exit(run())
}

// run returns the process exit code. Deferred cleanup (log flush, database
// close) happens before main calls os.Exit.
func run() int {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return 0
	}

	// Handle --help/--version before DB init (no DB needed)
	if isHelpOrVersion() {
		app := newCLIApp(nil)
		if err := app.Run(os.Args); err != nil {
			return fail("%v", err)
		}
		return 0
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fail("could not determine home directory: %v", err)
	}
	baseDir := filepath.Join(homeDir, ".promptorg")

	database, err := db.Init(baseDir)
	if err != nil {
		return fail("failed to initialize database: %v", err)
	}
	defer database.Close()

	cfg, err := config.Load(baseDir)
	if err != nil {
		return fail("failed to load config: %v", err)
	}
	db.ConfigurePool(database, cfg)

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return fail("failed to build logger: %v", err)
	}
	defer log.Sync()

	if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		log.Warn("unknown tools in disabled_tools", "tools", unknown)
	}

	d := ops.NewDeps(database, cfg, baseDir, llm.NewGeminiClient(cfg.Model, log), log)

	// CLI mode: known subcommand
	if isCLIMode() {
		app := newCLIApp(d)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return exitCode(err)
		}
		return 0
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'promptorg --help' for usage.\n")
		return 1
	}

	// MCP server mode (default)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := mcp.Run(ctx, d, Version); err != nil {
		return fail("%v", err)
	}
	return 0
}
