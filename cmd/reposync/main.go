// Command reposync mirrors git repositories and keeps a vector index of
// their files incrementally in sync.
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

// Exit codes
const (
	exitOK      = 0
	exitFailure = 1 // the task failed (fetch, state, store)
	exitUsage   = 2
	exitPartial = 3 // --strict and at least one batch failed
)

// GlobalFlags holds flags shared by every command
type GlobalFlags struct {
	ConfigPath string
	JSON       bool
	NoColor    bool
	Verbose    int
	Quiet      bool
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	fs := flag.NewFlagSet("reposync", flag.ContinueOnError)
	var (
		showVersion = fs.BoolP("version", "V", false, "Show version and exit")
		configPath  = fs.StringP("config", "c", "", "Path to reposync.yaml (default: <data_dir>/reposync.yaml)")
		jsonOutput  = fs.Bool("json", false, "Output in JSON format")
		noColor     = fs.Bool("no-color", false, "Disable color output")
		verbose     = fs.CountP("verbose", "v", "Increase log verbosity (-v info, -vv debug)")
		quiet       = fs.BoolP("quiet", "q", false, "Suppress progress and informational output")
	)
	fs.SetInterspersed(false)
	fs.Usage = usage

	if err := fs.Parse(argv); err != nil {
		if err == flag.ErrHelp {
			return exitOK
		}
		return exitUsage
	}

	if *showVersion {
		fmt.Printf("reposync version %s\n", version)
		fmt.Printf("built: %s\n", buildTime)
		return exitOK
	}
	if *quiet && *verbose > 0 {
		fmt.Fprintln(os.Stderr, "Error: cannot use --quiet and --verbose together")
		return exitUsage
	}
	if os.Getenv("NO_COLOR") != "" {
		*noColor = true
	}
	if *jsonOutput {
		*quiet = true
	}

	globals := GlobalFlags{
		ConfigPath: *configPath,
		JSON:       *jsonOutput,
		NoColor:    *noColor,
		Verbose:    *verbose,
		Quiet:      *quiet,
	}
	initColors(globals.NoColor)

	args := fs.Args()
	if len(args) == 0 {
		usage()
		return exitUsage
	}

	command, cmdArgs := args[0], args[1:]
	switch command {
	case "sync":
		return runSync(cmdArgs, globals)
	case "status":
		return runStatus(cmdArgs, globals)
	case "invalidate":
		return runInvalidate(cmdArgs, globals)
	case "remove":
		return runRemove(cmdArgs, globals)
	case "collections":
		return runCollections(cmdArgs, globals)
	case "serve":
		return runServe(cmdArgs, globals)
	case "watch":
		return runWatch(cmdArgs, globals)
	case "embed-check":
		return runEmbedCheck(cmdArgs, globals)
	case "config":
		return runConfig(cmdArgs, globals)
	case "help":
		usage()
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		usage()
		return exitUsage
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `reposync - incremental repository sync and resumable vector indexing

Usage:
  reposync [global options] <command> [options]

Commands:
  sync          Fetch a repository and index what changed since the last sync
  status        Show the recorded snapshot and cached steps of a repository
  invalidate    Forget cached steps so the next sync starts from a fresh fetch
  remove        Delete a repository's vectors, snapshot, cached steps and mirror
  collections   List or drop vector collections (list | drop <name>)
  watch         Re-sync a repository whenever it changes
  serve         Start the MCP server on stdio
  embed-check   Verify the configured embedding provider end to end
  config        Print the effective configuration

Global Options:
  -c, --config     Path to reposync.yaml
      --json       Output in JSON format
      --no-color   Disable color output (respects NO_COLOR)
  -v, --verbose    Increase log verbosity (-v info, -vv debug)
  -q, --quiet      Suppress progress and informational output
  -V, --version    Show version and exit

Examples:
  reposync sync https://github.com/acme/handbook.git --branch main --ext .md
  reposync sync acme/handbook --strict
  reposync status acme/handbook
  reposync collections list
  reposync serve

Environment Variables:
  REPOSYNC_DATA_DIR            Data directory (default: ~/.reposync)
  REPOSYNC_EMBEDDING_PROVIDER  openai, jina or local
  OPENAI_API_KEY, JINA_API_KEY Provider credentials
  REPOSYNC_VECTOR_BACKEND      sqlite or qdrant

Exit codes: 0 success, 1 task failure, 2 usage error, 3 failed batches with --strict

For command help: reposync <command> --help
`)
}
