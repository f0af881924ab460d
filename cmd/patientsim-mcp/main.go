package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/jwulff/patientsim/internal/config"
	"github.com/jwulff/patientsim/internal/db"
	"github.com/jwulff/patientsim/internal/mcpserver"
)

const version = "v0.1.0"

func main() {
	configPath := flag.String("config", "", "Config file (default: $XDG_CONFIG_HOME/patientsim/config.yaml)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "patientsim-mcp: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	// Stdout carries the protocol, so nothing else may write there.
	store, err := db.OpenReadOnly(cfg.Archive.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	return mcpserver.ServeStdio(mcpserver.New(store, version))
}
