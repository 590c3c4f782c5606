package main

import (
	"fmt"
	"os"

	"panosphere/internal/cli"
	"panosphere/internal/config"
	"panosphere/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.Setup(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}

	if err := cli.NewRootCmd(cfg, log).Execute(); err != nil {
		os.Exit(1)
	}
}
