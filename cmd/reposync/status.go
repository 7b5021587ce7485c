package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/dshills/reposync/internal/pipeline"
	"github.com/dshills/reposync/pkg/types"
)

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// splitRepoKey splits "<source>@<branch>"; sources may themselves contain '@'
func splitRepoKey(key string) (sourceID, branch string) {
	i := strings.LastIndex(key, "@")
	if i < 0 {
		return key, ""
	}
	return key[:i], key[i+1:]
}

// parseCommand parses fs and reports an exit code when the caller should stop
func parseCommand(fs *flag.FlagSet, args []string, nargs int) (int, bool) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK, false
		}
		return exitUsage, false
	}
	if nargs >= 0 && fs.NArg() != nargs {
		fs.Usage()
		return exitUsage, false
	}
	return exitOK, true
}

// runStatus executes the 'status' command. Without a source it lists every
// tracked repository.
func runStatus(args []string, globals GlobalFlags) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	branch := fs.StringP("branch", "b", "main", "Branch")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: reposync status [<source>] [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if code, ok := parseCommand(fs, args, -1); !ok {
		return code
	}
	if fs.NArg() > 1 {
		fs.Usage()
		return exitUsage
	}

	ctx := context.Background()
	a, err := newApp(ctx, globals, false, nil)
	if err != nil {
		errorf("%v", err)
		return exitFailure
	}
	defer func() { _ = a.close() }()

	var targets [][2]string
	if fs.NArg() == 1 {
		targets = append(targets, [2]string{fs.Arg(0), *branch})
	} else {
		keys := a.meta.Keys()
		sort.Strings(keys)
		for _, k := range keys {
			src, br := splitRepoKey(k)
			targets = append(targets, [2]string{src, br})
		}
	}

	statuses := make([]*pipeline.Status, 0, len(targets))
	for _, t := range targets {
		st, err := a.pipeline.Status(t[0], t[1])
		if err != nil {
			errorf("%v", err)
			return exitFailure
		}
		statuses = append(statuses, st)
	}

	if globals.JSON {
		printJSON(statuses)
		return exitOK
	}
	if len(statuses) == 0 {
		fmt.Println("No repositories tracked yet. Run 'reposync sync <source>' first.")
		return exitOK
	}
	for i, st := range statuses {
		if i > 0 {
			fmt.Println()
		}
		printStatus(st)
	}
	return exitOK
}

func printStatus(st *pipeline.Status) {
	header(types.RepoKey(st.SourceID, st.Branch))
	if !st.Tracked {
		fmt.Printf("  %s\n", dim("not synced"))
	} else {
		fmt.Printf("  %s %s\n", label("Commit:    "), types.ShortID(st.LastCommitID))
		fmt.Printf("  %s %s\n", label("Collection:"), st.Collection)
		fmt.Printf("  %s %d files, %d vectors\n", label("Indexed:   "), st.FileCount, st.VectorCount)
		fmt.Printf("  %s %s\n", label("Updated:   "), st.UpdatedAt)
	}
	fmt.Printf("  %s %s\n", label("Mirror:    "), st.LocalPath)
	if st.Syncing {
		_, _ = colorYellow.Println("  sync in progress")
	}

	for _, task := range st.Tasks {
		fmt.Printf("  %s %s\n", label("Task:      "), task.TaskID)
		for _, step := range types.AllSteps {
			rec, ok := task.Steps[step]
			if !ok {
				fmt.Printf("    %-10s %s\n", step, dim("not run"))
				continue
			}
			line := fmt.Sprintf("    %-10s %-9s %s", step, rec.Status, rec.Timestamp.Format("2006-01-02 15:04:05"))
			switch rec.Status {
			case types.StatusCompleted:
				_, _ = colorGreen.Println(line)
			case types.StatusFailed:
				_, _ = colorRed.Println(line + "  " + rec.Error)
			default:
				fmt.Println(line)
			}
		}
	}
}

// runInvalidate executes the 'invalidate' command
func runInvalidate(args []string, globals GlobalFlags) int {
	fs := flag.NewFlagSet("invalidate", flag.ContinueOnError)
	var target targetFlags
	target.register(fs)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: reposync invalidate <source> [options]

Forgets the cached fetch, parse and vectorize steps of one task. Filters
identify the task, so pass the same --include/--exclude/--ext as the sync.

Options:
`)
		fs.PrintDefaults()
	}
	if code, ok := parseCommand(fs, args, 1); !ok {
		return code
	}

	a, err := newApp(context.Background(), globals, false, nil)
	if err != nil {
		errorf("%v", err)
		return exitFailure
	}
	defer func() { _ = a.close() }()

	taskID, err := a.pipeline.Invalidate(target.params(fs.Arg(0), a.cfg.Source.Filters))
	if err != nil {
		errorf("%v", err)
		return exitFailure
	}
	if globals.JSON {
		printJSON(map[string]string{"task_id": taskID, "status": "invalidated"})
		return exitOK
	}
	if !globals.Quiet {
		_, _ = colorGreen.Printf("Invalidated task %s\n", taskID)
	}
	return exitOK
}

// runRemove executes the 'remove' command
func runRemove(args []string, globals GlobalFlags) int {
	fs := flag.NewFlagSet("remove", flag.ContinueOnError)
	branch := fs.StringP("branch", "b", "main", "Branch")
	yes := fs.BoolP("yes", "y", false, "Do not ask for confirmation")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: reposync remove <source> [options]

Deletes the repository's vectors, snapshot, cached steps and working copy.

Options:
`)
		fs.PrintDefaults()
	}
	if code, ok := parseCommand(fs, args, 1); !ok {
		return code
	}
	if !*yes && !confirm(fmt.Sprintf("Remove %s and all of its vectors?", types.RepoKey(fs.Arg(0), *branch))) {
		fmt.Fprintln(os.Stderr, "Aborted.")
		return exitFailure
	}

	ctx := context.Background()
	a, err := newApp(ctx, globals, false, nil)
	if err != nil {
		errorf("%v", err)
		return exitFailure
	}
	defer func() { _ = a.close() }()

	res, err := a.pipeline.Remove(ctx, fs.Arg(0), *branch)
	if err != nil {
		errorf("%v", err)
		return exitFailure
	}
	if globals.JSON {
		printJSON(res)
		return exitOK
	}
	if !globals.Quiet {
		if !res.Tracked {
			fmt.Println(dim("repository was not tracked; cleaned up leftovers"))
		}
		_, _ = colorGreen.Printf("Removed %d vectors and %d tasks\n", res.VectorsDeleted, res.TasksRemoved)
	}
	return exitOK
}

// confirm asks a yes/no question on stderr; non-interactive input means no
func confirm(question string) bool {
	if !interactive(GlobalFlags{}) {
		return false
	}
	fmt.Fprintf(os.Stderr, "%s [y/N] ", question)
	var answer string
	_, _ = fmt.Scanln(&answer)
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

// runConfig prints the effective configuration
func runConfig(args []string, globals GlobalFlags) int {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: reposync config\n\nPrints the configuration after defaults and environment overrides.\n")
	}
	if code, ok := parseCommand(fs, args, 0); !ok {
		return code
	}

	cfg, paths, _, err := loadConfig(globals, false)
	if err != nil {
		errorf("%v", err)
		return exitFailure
	}
	if cfg.Embedding.APIKey != "" {
		cfg.Embedding.APIKey = "***"
	}
	if cfg.VectorStore.Qdrant.APIKey != "" {
		cfg.VectorStore.Qdrant.APIKey = "***"
	}

	if globals.JSON {
		printJSON(map[string]interface{}{"config": cfg, "paths": paths})
		return exitOK
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		errorf("%v", err)
		return exitFailure
	}
	fmt.Print(string(out))
	return exitOK
}
