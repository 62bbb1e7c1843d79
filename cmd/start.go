package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mihaisavezi/cc-adapter/internal/config"
	"github.com/mihaisavezi/cc-adapter/internal/process"
	"github.com/mihaisavezi/cc-adapter/internal/server"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the adapter service",
	Long:  `Start the adapter in the foreground, or in the background with --daemon.`,
	RunE:  runStart,
}

func init() {
	addStartFlags(startCmd)
}

func addStartFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("host", "", "listen host")
	f.Int("port", 0, "listen port")
	f.Bool("daemon", false, "run in the background")
	f.String("model", "", "default model as provider:name")
	f.String("lmstudio-base", "", "LM Studio chat completions URL")
	f.String("lmstudio-model", "", "LM Studio model used for lmstudio: requests")
	f.Float64("lmstudio-timeout", 0, "upstream timeout in seconds for every provider")
	f.String("poe-api-key", "", "Poe API key")
	f.String("poe-base-url", "", "Poe chat completions URL")
	f.String("openrouter-api-key", "", "OpenRouter API key")
	f.String("openrouter-base", "", "OpenRouter chat completions URL")
}

func runStart(cmd *cobra.Command, _ []string) error {
	if _, err := cfgMgr.Load(); err != nil {
		return err
	}

	overrides, err := overridesFromFlags(cmd)
	if err != nil {
		return err
	}

	cfg, err := cfgMgr.Apply(overrides)
	if err != nil {
		return err
	}

	if err := setupLogging(cmd, cfg); err != nil {
		return err
	}

	procMgr := process.NewManager(baseDir, logger)

	if daemon, _ := cmd.Flags().GetBool("daemon"); daemon {
		return startDaemon(procMgr, cfg)
	}

	if procMgr.IsRunning() {
		return fmt.Errorf("%s is already running (pid %d)", AppName, procMgr.ReadPID())
	}

	if err := cfg.ApplyNoProxyEnv(); err != nil {
		return fmt.Errorf("apply no_proxy: %w", err)
	}

	color.Green("Starting %s v%s on %s", AppName, Version, cfg.Addr())

	if err := procMgr.WritePID(); err != nil {
		return err
	}
	defer procMgr.CleanupPID()

	return server.New(cfg, logger).Start()
}

func startDaemon(procMgr *process.Manager, cfg *config.Config) error {
	if procMgr.IsRunning() {
		color.Yellow("Service is already running (pid %d)", procMgr.ReadPID())
		return nil
	}

	if !process.PortAvailable(cfg.Host, cfg.Port) {
		return fmt.Errorf("port %d on %s is already in use", cfg.Port, cfg.Host)
	}

	pid, err := process.StartDaemon(withoutFlag(os.Args[1:], "daemon"))
	if err != nil {
		return err
	}

	if !procMgr.WaitForService(10 * time.Second) {
		return errors.Join(process.ErrStartupTimeout, fmt.Errorf("background process %d did not write %s", pid, procMgr.PIDFile()))
	}

	color.Green("%s started in the background (pid %d) on %s", AppName, procMgr.ReadPID(), cfg.Addr())
	return nil
}

// overridesFromFlags collects only the flags set explicitly on the command line.
func overridesFromFlags(cmd *cobra.Command) (config.Overrides, error) {
	var o config.Overrides
	flags := cmd.Flags()

	str := func(name string) *string {
		if !flags.Changed(name) {
			return nil
		}
		v, _ := flags.GetString(name)
		return &v
	}

	o.Host = str("host")
	o.Model = str("model")
	o.LogLevel = str("log-level")
	o.LMStudioBase = str("lmstudio-base")
	o.LMStudioModel = str("lmstudio-model")
	o.PoeAPIKey = str("poe-api-key")
	o.PoeBaseURL = str("poe-base-url")
	o.OpenRouterAPIKey = str("openrouter-api-key")
	o.OpenRouterBase = str("openrouter-base")

	if flags.Changed("port") {
		port, _ := flags.GetInt("port")
		o.Port = &port
	}

	if flags.Changed("lmstudio-timeout") {
		secs, _ := flags.GetFloat64("lmstudio-timeout")
		if secs <= 0 {
			return o, fmt.Errorf("--lmstudio-timeout must be positive, got %v", secs)
		}
		timeout := time.Duration(secs * float64(time.Second))
		o.Timeout = &timeout
	}

	return o, nil
}

// withoutFlag drops --name and --name=value from args.
func withoutFlag(args []string, name string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		if a == "--"+name || strings.HasPrefix(a, "--"+name+"=") {
			continue
		}
		out = append(out, a)
	}
	return out
}
