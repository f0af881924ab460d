package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/jwulff/patientsim/internal/logging"
	"github.com/jwulff/patientsim/internal/promptserver"
)

func main() {
	var (
		port     = flag.String("port", "", "Port to listen on (overrides PORT env var)")
		script   = flag.String("script", "", "Patient script YAML (default: built-in pneumonia case)")
		logLevel = flag.String("log-level", "info", "Log level")
	)
	flag.Parse()

	log := logging.Console(*logLevel)

	addr := *port
	if addr == "" {
		addr = os.Getenv("PORT")
	}
	if addr == "" {
		addr = "5001"
	}

	s, err := promptserver.LoadScript(*script)
	if err != nil {
		log.Fatal().Err(err).Msg("load script")
	}
	log.Info().Str("title", s.Title).Int("prompts", len(s.Prompts)).Msg("script loaded")

	r := promptserver.New(s, log).Router()
	log.Info().Str("port", addr).Msg("prompt server listening")
	if err := r.Run(fmt.Sprintf(":%s", addr)); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}
