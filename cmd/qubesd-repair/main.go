package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/qubesd/qubesd/internal/qubesd/app"
	"github.com/qubesd/qubesd/internal/qubesd/config"
	"github.com/qubesd/qubesd/internal/qubesd/storage"
	"github.com/qubesd/qubesd/internal/qubesd/storage/filepool"
	"github.com/qubesd/qubesd/pkg/qemuimg"
)

var fix = flag.Bool("fix", false, "apply safe repairs instead of only reporting them")

func main() {
	flag.Parse()
	zerolog.DefaultContextLogger = &log.Logger

	cfg, err := config.New()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	application := app.New(cfg.StorePath, true)
	application.RegisterDriverFactory("file", func(poolConfig map[string]string) (storage.Driver, error) {
		dir := poolConfig["dir"]
		if dir == "" {
			dir = cfg.StorePath
		}
		return filepool.New(dir, qemuimg.New("qemu-img")), nil
	})

	ctx := context.Background()
	if err := application.Load(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to load qubes.xml")
	}

	report, err := application.Repair(ctx, *fix)
	if err != nil {
		log.Fatal().Err(err).Msg("repair pass failed")
	}

	fmt.Printf("checked %d domains, found %d orphaned volume files\n", report.DomainsChecked, report.OrphansChecked)
	for _, issue := range report.Issues {
		status := "reported"
		if issue.Fixed {
			status = "fixed"
		}
		if issue.Domain != "" {
			fmt.Printf("[%s] %s %s: %s\n", status, issue.Domain, issue.Field, issue.Problem)
		} else {
			fmt.Printf("[%s] %s: %s\n", status, issue.Field, issue.Problem)
		}
	}
	if len(report.Issues) == 0 {
		fmt.Println("no inconsistencies found")
		return
	}

	if *fix {
		if err := application.Save(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to save repaired store")
		}
		return
	}

	os.Exit(1)
}
