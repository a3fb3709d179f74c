package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"condor-aog/config"
	"condor-aog/core/appbootstrap"
	"condor-aog/core/utils"
)

func main() {
	configPath := flag.String("config", "config.yml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLoggerWith(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	rt, err := appbootstrap.Compose(context.Background(), cfg, logger)
	if err != nil {
		logger.Errorf("bootstrap: %v", err)
		os.Exit(1)
	}
	if err := rt.Run(); err != nil {
		logger.Errorf("runtime: %v", err)
		os.Exit(1)
	}
}
