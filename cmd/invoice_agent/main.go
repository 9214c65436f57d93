// Package main provides the entry point for the invoice pipeline CLI and
// HTTP API server.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "invoice_agent",
	Short: "Invoice extraction pipeline",
	Long:  "invoice_agent turns scanned invoices into validated structured data: OCR with provider fallback, concurrent LLM extraction, deterministic arbitration and arithmetic validation.",
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
