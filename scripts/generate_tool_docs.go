// Copyright (C) 2025 CeylonMart (engineering@ceylonmart.lk)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// generate_tool_docs generates a markdown reference for the storefront
// tool surface exposed to the model.
//
// Usage:
//
//	go run scripts/generate_tool_docs.go > docs/tool_reference.md
//
// The generated documentation lists every registered tool with its
// description and input schema, so the front-end and prompt teams see
// exactly what the assistant can call.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ceylonmart/concierge/services/agent/tools"
)

func main() {
	registry, err := tools.NewRegistry(tools.StorefrontTools(tools.NewMemoryStorefront(nil)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building tool registry: %v\n", err)
		os.Exit(1)
	}

	schemas := registry.Schemas()

	fmt.Println("# Tool Reference")
	fmt.Println()
	fmt.Printf("Generated: %s\n", time.Now().Format("2006-01-02"))
	fmt.Println()
	fmt.Printf("The assistant exposes %d tools to the model. Tools are\n", len(schemas))
	fmt.Println("dispatched in the order the model requests them; every call")
	fmt.Println("produces a result message, including failures.")
	fmt.Println()

	fmt.Println("| Tool | Description |")
	fmt.Println("|------|-------------|")
	for _, schema := range schemas {
		fmt.Printf("| `%s` | %s |\n", schema.Name, schema.Description)
	}
	fmt.Println()

	for _, schema := range schemas {
		fmt.Printf("## %s\n\n", schema.Name)
		fmt.Println(schema.Description)
		fmt.Println()
		fmt.Println("Input schema:")
		fmt.Println()
		fmt.Println("```json")
		fmt.Println(indentJSON(schema.Parameters))
		fmt.Println("```")
		fmt.Println()
	}
}

func indentJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
