package cmd

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mihaisavezi/cc-adapter/internal/process"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the adapter service",
	Long: `Send SIGTERM to the background adapter and wait for it to drain.
Open "code" sessions lose their endpoint, so their reference count is reset.`,
	RunE: runStop,
}

func runStop(cmd *cobra.Command, _ []string) error {
	procMgr := process.NewManager(baseDir, logger)

	if !procMgr.IsRunning() {
		color.Yellow("%s is not running", AppName)
		procMgr.CleanupRef()
		return nil
	}

	pid := procMgr.ReadPID()
	if refs := procMgr.ReadRef(); refs > 0 {
		cfg := cfgMgr.Get()
		color.Yellow("%d code session(s) still use the adapter at %s", refs, clientBaseURL(cfg.Host, cfg.Port))
	}

	color.Yellow("Stopping %s (pid %d)...", AppName, pid)
	if err := procMgr.Stop(); err != nil {
		return err
	}
	procMgr.CleanupRef()

	color.Green("%s stopped", AppName)
	return nil
}
