package cmd

import (
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mihaisavezi/cc-adapter/internal/process"
)

const claudeTimeoutMS = "600000"

var codeCmd = &cobra.Command{
	Use:                "code [args...]",
	Short:              "Run Claude Code against the adapter",
	Long:               `Start the adapter if needed and run the claude CLI with the adapter as its API endpoint.`,
	Args:               cobra.ArbitraryArgs,
	DisableFlagParsing: true,
	RunE:               runCode,
}

func runCode(cmd *cobra.Command, args []string) error {
	procMgr := process.NewManager(baseDir, logger)
	cfg := cfgMgr.Get()

	startedByUs, err := procMgr.StartServiceIfNeeded()
	if err != nil {
		return err
	}

	env := claudeEnv(os.Environ(), clientBaseURL(cfg.Host, cfg.Port))

	procMgr.IncrementRef()
	defer func() {
		if remaining := procMgr.DecrementRef(); startedByUs && remaining == 0 {
			color.Yellow("No more active sessions, stopping auto-started service...")
			if err := procMgr.Stop(); err != nil {
				logger.Warn("Failed to stop service", "error", err)
			}
		}
	}()

	claudeCmd := exec.Command("claude", args...)
	claudeCmd.Env = env
	claudeCmd.Stdin = os.Stdin
	claudeCmd.Stdout = os.Stdout
	claudeCmd.Stderr = os.Stderr

	return claudeCmd.Run()
}

// claudeEnv points the claude CLI at baseURL with a placeholder token.
func claudeEnv(env []string, baseURL string) []string {
	env = filterEnv(env, "ANTHROPIC_AUTH_TOKEN", "ANTHROPIC_API_KEY", "ANTHROPIC_BASE_URL", "API_TIMEOUT_MS")

	return append(env,
		"ANTHROPIC_AUTH_TOKEN=proxy",
		"ANTHROPIC_BASE_URL="+baseURL,
		"API_TIMEOUT_MS="+claudeTimeoutMS,
	)
}

func filterEnv(env []string, keys ...string) []string {
	filtered := make([]string, 0, len(env))
	for _, e := range env {
		drop := false
		for _, key := range keys {
			if strings.HasPrefix(e, key+"=") {
				drop = true
				break
			}
		}
		if !drop {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

// clientBaseURL is the URL a local client uses. Wildcard hosts are reached over loopback.
func clientBaseURL(host string, port int) string {
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port))
}
