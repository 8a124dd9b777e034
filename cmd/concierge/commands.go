// Copyright (C) 2025 CeylonMart (engineering@ceylonmart.lk)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ceylonmart/concierge/pkg/logging"
	"github.com/ceylonmart/concierge/services/agent"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

var (
	flagPort    int
	flagDataDir string

	rootCmd = &cobra.Command{
		Use:   "concierge",
		Short: "The CeylonMart shopping assistant service",
		Long: `Concierge is the conversational shopping assistant backing the
CeylonMart storefront. It serves a WebSocket chat endpoint driven by a
tool-calling language model.`,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the agent HTTP server",
		RunE:  runServe,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the concierge version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("concierge", version)
		},
	}
)

func init() {
	serveCmd.Flags().IntVar(&flagPort, "port", 0, "HTTP server port (overrides CONCIERGE_PORT)")
	serveCmd.Flags().StringVar(&flagDataDir, "data-dir", "", "checkpoint store directory (overrides CONCIERGE_DATA_DIR)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(os.Getenv("CONCIERGE_LOG_LEVEL")),
		LogDir:  os.Getenv("CONCIERGE_LOG_DIR"),
		Service: "concierge",
		JSON:    true,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	port := flagPort
	if port == 0 {
		port = getEnvInt("CONCIERGE_PORT", 8080)
	}
	dataDir := flagDataDir
	if dataDir == "" {
		dataDir = os.Getenv("CONCIERGE_DATA_DIR")
	}

	cfg := agent.Config{
		Port:          port,
		DataDir:       dataDir,
		SystemPrompt:  os.Getenv("CONCIERGE_SYSTEM_PROMPT"),
		MaxModelTurns: getEnvInt("CONCIERGE_MAX_MODEL_TURNS", 0),
		OTelEndpoint:  os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Logger:        logger.Slog(),
	}

	logger.Info("starting concierge",
		"version", version,
		"port", cfg.Port,
		"data_dir", cfg.DataDir,
		"tracing", cfg.OTelEndpoint != "")

	svc, err := agent.New(cfg)
	if err != nil {
		return fmt.Errorf("creating service: %w", err)
	}
	return svc.Run()
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
