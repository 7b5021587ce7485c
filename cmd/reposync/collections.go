package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/dshills/reposync/internal/config"
	"github.com/dshills/reposync/internal/embedder"
	"github.com/dshills/reposync/internal/ledger"
	"github.com/dshills/reposync/internal/metadata"
	"github.com/dshills/reposync/internal/pipeline"
	"github.com/dshills/reposync/internal/vectorstore"
)

// runCollections executes 'collections list' and 'collections drop <name>'
func runCollections(args []string, globals GlobalFlags) int {
	fs := flag.NewFlagSet("collections", flag.ContinueOnError)
	yes := fs.BoolP("yes", "y", false, "Confirm dropping a collection")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: reposync collections list
       reposync collections drop <name> --yes

Collections are named after the embedding provider, model and dimension.
After changing the embedding model the old collection stays in place until
it is dropped explicitly.

Options:
`)
		fs.PrintDefaults()
	}
	if code, ok := parseCommand(fs, args, -1); !ok {
		return code
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return exitUsage
	}

	cfg, paths, logger, err := loadConfig(globals, false)
	if err != nil {
		errorf("%v", err)
		return exitFailure
	}
	ctx := context.Background()
	catalog, err := vectorstore.OpenCatalog(ctx, cfg.VectorStore)
	if err != nil {
		errorf("%v", err)
		return exitFailure
	}
	defer func() { _ = catalog.Close() }()

	switch fs.Arg(0) {
	case "list":
		if fs.NArg() != 1 {
			fs.Usage()
			return exitUsage
		}
		infos, err := catalog.ListCollections(ctx)
		if err != nil {
			errorf("%v", err)
			return exitFailure
		}

		// the active collection is only known when the embedder can be built
		active := ""
		embCfg := cfg.EmbedderConfig()
		embCfg.Logger = logger
		if emb, err := embedder.New(embCfg); err == nil {
			active = collectionSpec(cfg, emb).Name
			_ = emb.Close()
		}

		if globals.JSON {
			printJSON(map[string]interface{}{"active": active, "collections": infos})
			return exitOK
		}
		if len(infos) == 0 {
			fmt.Println("No collections.")
			return exitOK
		}
		for _, c := range infos {
			marker := " "
			if c.Name == active {
				marker = colorGreen.Sprint("*")
			}
			model := c.Model
			if model == "" {
				model = "-"
			}
			fmt.Printf("%s %-48s dim=%-5d vectors=%-8d %s\n", marker, c.Name, c.Dimension, c.Count, dim(model))
		}
		return exitOK

	case "drop":
		if fs.NArg() != 2 {
			fs.Usage()
			return exitUsage
		}
		name := fs.Arg(1)
		if !*yes {
			errorf("dropping %s deletes all of its vectors; pass --yes to confirm", name)
			return exitUsage
		}
		if err := catalog.DropCollection(ctx, name); err != nil {
			errorf("%v", err)
			return exitFailure
		}
		logger.Info("collections.dropped", "collection", name)

		forgotten, err := forgetCollection(paths, name, logger)
		if err != nil {
			errorf("collection dropped but local state could not be cleared: %v", err)
			return exitFailure
		}
		if globals.JSON {
			printJSON(map[string]interface{}{"collection": name, "status": "dropped", "snapshots_removed": forgotten})
		} else if !globals.Quiet {
			_, _ = colorGreen.Printf("Dropped %s (%d repository snapshots cleared)\n", name, forgotten)
		}
		return exitOK

	default:
		errorf("unknown collections subcommand %q", fs.Arg(0))
		fs.Usage()
		return exitUsage
	}
}

// forgetCollection clears snapshots, tasks and checkpoints of a dropped collection
func forgetCollection(paths config.Paths, name string, logger *slog.Logger) (int, error) {
	led, err := ledger.Open(paths.Ledger, logger)
	if err != nil {
		return 0, err
	}
	meta, err := metadata.Open(paths.Metadata, logger)
	if err != nil {
		return 0, err
	}
	return pipeline.ForgetCollection(led, meta, paths.StateDir, name, logger)
}
