package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/tessera-db/tessera/ivm/arrange"
	"github.com/tessera-db/tessera/ivm/plan"
	"github.com/tessera-db/tessera/ivm/store"
)

func main() {
	var planPath string
	var leftPath string
	var updatesPath string
	var dbPath string
	var retain uint64
	var mergeEvery time.Duration
	var verbose bool

	flag.StringVar(&planPath, "plan", "", "join graph (yaml); runs an inner delta join")
	flag.StringVar(&leftPath, "left", "", "left-join spec (yaml); runs an outer join")
	flag.StringVar(&updatesPath, "updates", "", "update stream (yaml)")
	flag.StringVar(&dbPath, "db", "", "persist batches under this path (default: in-memory only)")
	flag.Uint64Var(&retain, "retain", 0, "compact history older than N instants behind the frontier (0: keep everything)")
	flag.DurationVar(&mergeEvery, "merge-every", 2*time.Second, "background merge interval")
	flag.BoolVar(&verbose, "verbose", false, "debug logging")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "An incremental view maintenance engine: feed timestamped\n")
		fmt.Fprintf(os.Stderr, "update batches through a multiway join and stream out the\n")
		fmt.Fprintf(os.Stderr, "changes to the join's result.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -plan join.yaml -updates feed.yaml\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -left orders.yaml -updates feed.yaml -db state.db\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -plan join.yaml -updates feed.yaml -retain 10\n", os.Args[0])
	}
	flag.Parse()

	if updatesPath == "" {
		flag.Usage()
		os.Exit(1)
	}
	if (planPath == "") == (leftPath == "") {
		log.Fatal("exactly one of -plan or -left is required")
	}

	logger := zap.NewNop()
	if verbose {
		var err error
		logger, err = zap.NewDevelopment()
		if err != nil {
			log.Fatalf("Failed to build logger: %v", err)
		}
	}
	defer logger.Sync()

	var st *store.Store
	if dbPath != "" {
		var err error
		st, err = store.Open(dbPath)
		if err != nil {
			log.Fatalf("Failed to open store: %v", err)
		}
		defer st.Close()
	}

	feed, err := loadFeed(updatesPath)
	if err != nil {
		log.Fatalf("Failed to load updates: %v", err)
	}

	merger := arrange.NewMerger(logger, mergeEvery)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	merger.Start(ctx)
	defer merger.Stop()

	run := runner{
		logger: logger,
		store:  st,
		merger: merger,
		retain: retain,
	}

	if planPath != "" {
		g, err := plan.Load(planPath)
		if err != nil {
			log.Fatalf("Failed to load plan: %v", err)
		}
		err = run.inner(g, feed)
		if err != nil {
			log.Fatalf("Join failed: %v", err)
		}
		return
	}

	spec, err := loadLeftSpec(leftPath)
	if err != nil {
		log.Fatalf("Failed to load left-join spec: %v", err)
	}
	if err := run.left(spec, feed); err != nil {
		log.Fatalf("Join failed: %v", err)
	}
}
