package cmd

import (
	"os"
	"os/exec"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/mihaisavezi/cc-adapter/internal/config"
	"github.com/mihaisavezi/cc-adapter/internal/process"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStartFlagsCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	c := &cobra.Command{Use: "start"}
	addStartFlags(c)
	c.Flags().String("log-level", "", "")
	require.NoError(t, c.ParseFlags(args))
	return c
}

func TestOverridesFromFlags(t *testing.T) {
	c := newStartFlagsCmd(t,
		"--port", "9000",
		"--model", "poe:claude-opus-4.5",
		"--lmstudio-timeout", "2.5",
		"--poe-api-key", "k",
		"--log-level", "verbose",
	)

	o, err := overridesFromFlags(c)
	require.NoError(t, err)

	require.NotNil(t, o.Port)
	assert.Equal(t, 9000, *o.Port)
	require.NotNil(t, o.Model)
	assert.Equal(t, "poe:claude-opus-4.5", *o.Model)
	require.NotNil(t, o.Timeout)
	assert.Equal(t, 2500*time.Millisecond, *o.Timeout)
	require.NotNil(t, o.PoeAPIKey)
	assert.Equal(t, "k", *o.PoeAPIKey)
	require.NotNil(t, o.LogLevel)
	assert.Equal(t, "verbose", *o.LogLevel)

	assert.Nil(t, o.Host, "unset flags do not override")
	assert.Nil(t, o.LMStudioBase)
	assert.Nil(t, o.OpenRouterAPIKey)
}

func TestOverridesFromFlags_BadTimeout(t *testing.T) {
	_, err := overridesFromFlags(newStartFlagsCmd(t, "--lmstudio-timeout", "0"))
	assert.Error(t, err)
}

func TestWithoutFlag(t *testing.T) {
	got := withoutFlag([]string{"start", "--daemon", "--port", "9000", "--daemon=true", "--daemonize"}, "daemon")
	assert.Equal(t, []string{"start", "--port", "9000", "--daemonize"}, got)
}

func TestClaudeEnv(t *testing.T) {
	env := claudeEnv([]string{
		"PATH=/bin",
		"ANTHROPIC_API_KEY=real",
		"ANTHROPIC_AUTH_TOKEN=old",
		"ANTHROPIC_BASE_URL=https://api.anthropic.com",
	}, "http://127.0.0.1:8000")

	assert.ElementsMatch(t, []string{
		"PATH=/bin",
		"ANTHROPIC_AUTH_TOKEN=proxy",
		"ANTHROPIC_BASE_URL=http://127.0.0.1:8000",
		"API_TIMEOUT_MS=600000",
	}, env)
}

func TestClientBaseURL(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:8000", clientBaseURL("0.0.0.0", 8000))
	assert.Equal(t, "http://127.0.0.1:8000", clientBaseURL("", 8000))
	assert.Equal(t, "http://localhost:9000", clientBaseURL("localhost", 9000))
	assert.Equal(t, "http://[::1]:8000", clientBaseURL("::1", 8000))
}

func TestAPIBase(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:1234/v1", apiBase("http://127.0.0.1:1234/v1/chat/completions"))
	assert.Equal(t, "http://127.0.0.1:1234/v1", apiBase("http://127.0.0.1:1234/v1/chat/completions/"))
	assert.Equal(t, "http://127.0.0.1:1234/v1", apiBase("http://127.0.0.1:1234/v1"))
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "", maskKey(""))
	assert.Equal(t, "****", maskKey("short"))
	assert.Equal(t, "sk-a...wxyz", maskKey("sk-abcdefghuvwxyz"))
}

func TestCountTokens(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"empty input", "", 0},
		{"system only", `{"system":"abcdefgh"}`, 6},
		{"one message", `{"model":"poe:x","messages":[{"role":"user","content":"abcd"}]}`, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := countTokens(strings.NewReader(tt.body), false, "")
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}
}

func TestCountTokens_InvalidJSON(t *testing.T) {
	_, err := countTokens(strings.NewReader("{"), false, "")
	assert.Error(t, err)
}

func withTempBaseDir(t *testing.T) string {
	t.Helper()
	prevDir, prevCfg := baseDir, cfgMgr
	baseDir = t.TempDir()
	cfgMgr = config.NewManager(baseDir, config.WithSecrets(nil))
	t.Cleanup(func() { baseDir, cfgMgr = prevDir, prevCfg })
	return baseDir
}

func TestRunStop_NotRunningClearsRefs(t *testing.T) {
	dir := withTempBaseDir(t)
	m := process.NewManager(dir, logger)
	m.IncrementRef()
	m.IncrementRef()
	require.Equal(t, 2, m.ReadRef())

	require.NoError(t, runStop(nil, nil))
	assert.Zero(t, m.ReadRef())
}

func TestRunStop_StopsDaemonAndClearsRefs(t *testing.T) {
	dir := withTempBaseDir(t)
	m := process.NewManager(dir, logger)

	child := exec.Command("sleep", "30")
	require.NoError(t, child.Start())
	go func() { _ = child.Wait() }()
	require.NoError(t, os.WriteFile(m.PIDFile(), []byte(strconv.Itoa(child.Process.Pid)), 0600))
	m.IncrementRef()

	require.NoError(t, runStop(nil, nil))
	assert.False(t, m.IsRunning())
	assert.Zero(t, m.ReadRef())
}
