package cmd

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mihaisavezi/cc-adapter/internal/models"
	"github.com/mihaisavezi/cc-adapter/internal/process"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show adapter service status",
	Long:  `Display the current status of the adapter service.`,
	Run:   runStatus,
}

func runStatus(cmd *cobra.Command, _ []string) {
	procMgr := process.NewManager(baseDir, logger)
	cfg := cfgMgr.Get()
	settings := models.SettingsFromConfig(cfg)

	running := procMgr.IsRunning()

	color.Blue("Status for %s:", AppName)
	fmt.Printf("  %-15s: %v\n", "Running", running)
	fmt.Printf("  %-15s: %d\n", "PID", procMgr.ReadPID())
	fmt.Printf("  %-15s: %s\n", "Endpoint", clientBaseURL(cfg.Host, cfg.Port))
	fmt.Printf("  %-15s: %s\n", "Default Model", orNone(cfg.Model))

	var ready []string
	for _, p := range models.Providers {
		if settings.HasCredential(p) {
			ready = append(ready, string(p))
		}
	}
	fmt.Printf("  %-15s: %s\n", "Providers", strings.Join(ready, ", "))

	fmt.Printf("  %-15s: %s\n", "Config Path", cfgMgr.GetPath())
	fmt.Printf("  %-15s: %d\n", "References", procMgr.ReadRef())
	fmt.Printf("  %-15s: v%s\n", "Version", Version)
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
