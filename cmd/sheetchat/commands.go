package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"sheetchat/internal/config"
	"sheetchat/internal/workbook"
)

// --- seed ---

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create the demo workbook",
	Long: `Create the demo workbook with a Sheet1 roster and a Summary sheet.
Refuses to overwrite an existing file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("path")
		if path == "" {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			path = cfg.Workbook.Path
		}

		if err := workbook.Seed(path); err != nil {
			return err
		}
		printSuccess("Created workbook at %s", path)
		return nil
	},
}

// --- write ---

var writeCmd = &cobra.Command{
	Use:   "write <sheet> <cell> <value>",
	Short: "Write a cell through the running server",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		sheet, cell, value := args[0], args[1], args[2]
		token, _ := cmd.Flags().GetString("token")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]any{
			"sheet": sheet,
			"cell":  cell,
			"value": value,
		}
		if token != "" {
			body["confirmationToken"] = token
		}

		resp, err := client.post(cmd.Context(), "/xlsx/write", body)
		if err != nil {
			return err
		}

		var result struct {
			Success bool   `json:"success"`
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		if !result.Success {
			printError("%s", result.Error)
			return fmt.Errorf("write failed: %s", result.Error)
		}

		printSuccess("%s", result.Message)
		return nil
	},
}

func init() {
	seedCmd.Flags().String("path", "", "workbook path (default: configured path)")
	writeCmd.Flags().String("token", "", "confirmation token (required in strict mode)")
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sheetchat system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			printError("config error: %v", err)
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		running := false
		if resp, healthErr := client.get(cmd.Context(), "/health"); healthErr != nil {
			printStatus("Server", "stopped")
		} else {
			resp.Body.Close()
			if resp.StatusCode == 200 {
				running = true
				printStatus("Server", "running on port %d", cfg.Server.Port)
			} else {
				printStatus("Server", "error (HTTP %d)", resp.StatusCode)
			}
		}

		if cfg.Gemini.APIKey != "" {
			printStatus("Gemini", "key configured, model %s", cfg.Gemini.Model)
		} else {
			printStatus("Gemini", "no API key")
		}

		wb := workbook.New(cfg.Workbook.Path)
		if sheets := wb.ListSheets(); len(sheets) > 0 {
			printStatus("Workbook", "%s (%d sheets)", cfg.Workbook.Path, len(sheets))
		} else {
			printStatus("Workbook", "missing (%s)", cfg.Workbook.Path)
		}

		if running {
			if resp, err := client.get(cmd.Context(), "/threads"); err == nil {
				var threads []json.RawMessage
				if decodeJSON(resp, &threads) == nil {
					printStatus("Threads", "%d", len(threads))
				}
			}
		}

		printStatus("Data dir", "%s", cfg.Storage.DataDir)
		return nil
	},
}
