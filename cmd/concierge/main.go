// Copyright (C) 2025 CeylonMart (engineering@ceylonmart.lk)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command concierge runs the CeylonMart shopping assistant service.
//
// # Environment Variables
//
//   - CONCIERGE_PORT: HTTP server port (default: 8080)
//   - CONCIERGE_DATA_DIR: Checkpoint store directory (default: in-memory)
//   - CONCIERGE_LOG_LEVEL: debug, info, warn, error (default: info)
//   - CONCIERGE_LOG_DIR: Optional log file directory
//   - CONCIERGE_SYSTEM_PROMPT: Override the assistant persona
//   - CONCIERGE_MAX_MODEL_TURNS: Model invocations allowed per run (default: 10)
//   - CONCIERGE_CATALOG_PATH: JSON product catalog file (default: built-in demo)
//   - OPENAI_API_KEY: Model endpoint API key (required to serve)
//   - OPENAI_MODEL: Model name (default: gpt-4o-mini)
//   - OPENAI_BASE_URL: OpenAI-compatible endpoint override
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: disabled)
//
// # Usage
//
//	# Build
//	go build -o concierge ./cmd/concierge
//
//	# Run
//	./concierge serve
package main

import (
	"log"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}
