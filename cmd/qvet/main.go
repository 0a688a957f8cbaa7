package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"qvet/internal/config"
	"qvet/internal/db"
	"qvet/internal/report"
	"qvet/internal/rewrite"
	"qvet/internal/session"
	"qvet/internal/uploader"
	"qvet/internal/util"

	"gopkg.in/yaml.v3"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	batchPath := flag.String("batch", "", "path to batch file (original query plus candidates)")
	flag.Parse()

	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	util.Verbose = cfg.Logging.Verbose
	if data, err := yaml.Marshal(&cfg); err == nil {
		util.Highlightf("config:\n%s", string(data))
	}

	if *batchPath == "" {
		fmt.Fprintln(os.Stderr, "no batch file given, nothing to validate")
		os.Exit(1)
	}
	source := &session.BatchFileSource{Path: *batchPath}
	original, err := source.Original()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load batch: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	database, err := db.Open(ctx, cfg.DSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to db: %v\n", err)
		os.Exit(1)
	}
	defer util.CloseWithErr(database, "db")

	sess, err := session.New(cfg, database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build session: %v\n", err)
		os.Exit(1)
	}

	rep := report.New(cfg.Report.OutputDir, cfg.Report.Archive)
	rep.RunInfo = cfg.RunInfo
	if cfg.Storage.CloudEnabled() {
		up, err := uploader.ForConfig(cfg.Storage)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to build uploader: %v\n", err)
			os.Exit(1)
		}
		rep.Uploader = up
	}
	sess.SetReporter(rep)

	// Snapshot the original's row count so data drift during the session can
	// be called out in the verdict summary.
	countBefore, countErr := database.QueryCount(ctx, original)

	reports, err := sess.ValidateSource(ctx, original, source)
	if err != nil {
		fmt.Fprintf(os.Stderr, "validation failed: %v\n", err)
		os.Exit(1)
	}

	if countErr == nil {
		if countAfter, err := database.QueryCount(ctx, original); err == nil && countAfter != countBefore {
			util.Warnf("original row count changed during session (%d -> %d), results reflect drifted data", countBefore, countAfter)
		}
	}

	counts := map[rewrite.Classification]int{}
	for _, r := range reports {
		counts[r.Classification]++
	}
	util.Infof("done win=%d improved=%d neutral=%d regression=%d error=%d",
		counts[rewrite.ClassWin], counts[rewrite.ClassImproved], counts[rewrite.ClassNeutral],
		counts[rewrite.ClassRegression], counts[rewrite.ClassError])
}
