package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/invoice-pipeline/internal/config"
	"github.com/jonathan/invoice-pipeline/internal/document"
	"github.com/jonathan/invoice-pipeline/internal/types"
)

var processCmd = &cobra.Command{
	Use:   "process <document>",
	Short: "Run the extraction pipeline on a single invoice document",
	Long: `Runs the full pipeline on one PDF or image file: OCR with provider fallback,
quality gating, concurrent LLM extraction, arbitration and validation.
The structured result is printed as JSON.

Configuration can be loaded from a JSON file using --config. Command-line
arguments override config file values.`,
	Args: cobra.ExactArgs(1),
	RunE: runProcessCmd,
}

var (
	processConfigPath string
	processLanguage   string
	processAPIKey     string
	processParallel   bool
	processOutput     string
	processVerbose    bool
)

func init() {
	processCmd.Flags().StringVar(&processConfigPath, "config", "", "Path to config.json file (values can be overridden by other flags)")
	processCmd.Flags().StringVarP(&processLanguage, "language", "l", "", "OCR language hint (e.g. eng, tur)")
	processCmd.Flags().StringVar(&processAPIKey, "api-key", "", "Gemini API key (optional, defaults to GEMINI_API_KEY env var)")
	processCmd.Flags().BoolVar(&processParallel, "parallel", true, "Fan out to all configured extraction providers")
	processCmd.Flags().StringVarP(&processOutput, "output", "o", "", "Write the JSON result to a file instead of stdout")
	processCmd.Flags().BoolVarP(&processVerbose, "verbose", "v", false, "Print detailed debug information")

	rootCmd.AddCommand(processCmd)
}

func runProcessCmd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	documentPath := args[0]

	cfg, err := loadConfig(processConfigPath, processVerbose)
	if err != nil {
		return err
	}

	// CLI overrides take priority over the config file.
	if cmd.Flags().Changed("language") {
		cfg.OCRLanguage = processLanguage
	}
	if cmd.Flags().Changed("api-key") {
		cfg.APIKey = processAPIKey
	}
	if cmd.Flags().Changed("parallel") {
		cfg.ParallelEnabled = processParallel
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	if !document.IsSupported(documentPath) {
		return fmt.Errorf("unsupported document type: %s", documentPath)
	}

	runner, cleanup, err := buildRunner(ctx, cfg, processVerbose)
	if err != nil {
		return err
	}
	defer cleanup()

	run := &types.PipelineRun{
		ID:        uuid.New(),
		Document:  documentPath,
		Status:    types.RunStatusPending,
		CreatedAt: time.Now(),
	}

	result, err := runner.Run(ctx, run)
	if err != nil {
		return err
	}

	encoded, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	if processOutput != "" {
		if err := os.WriteFile(processOutput, encoded, 0o644); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
		fmt.Printf("Result written to %s\n", processOutput)
	} else {
		fmt.Println(string(encoded))
	}

	if result.Status == types.RunStatusFailed {
		return fmt.Errorf("pipeline failed: %s", result.Error)
	}
	return nil
}

// loadConfig reads the optional config file and falls back to defaults.
func loadConfig(path string, verbose bool) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		return &cfg, nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if verbose {
		fmt.Printf("Loaded config from: %s\n", path)
	}
	return cfg, nil
}
