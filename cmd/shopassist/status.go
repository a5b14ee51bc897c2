package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/merchly/shopassist/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check whether the local server is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus()
	},
}

// healthURL is swapped out in tests.
var healthURL = func() (string, error) {
	cfg, err := config.Load()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port), nil
}

func runStatus() error {
	url, err := healthURL()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		printError("server not reachable — is shopassist running? (%v)", err)
		return fmt.Errorf("server not reachable")
	}
	defer resp.Body.Close()

	var health struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("decoding health response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || health.Status != "ok" {
		printError("server unhealthy (HTTP %d, status %q)", resp.StatusCode, health.Status)
		return fmt.Errorf("server unhealthy")
	}

	printSuccess("Server is running")
	printStatus("version", "%s", version)
	return nil
}
