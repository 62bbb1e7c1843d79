package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/mihaisavezi/cc-adapter/internal/config"
	"github.com/mihaisavezi/cc-adapter/internal/models"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Manage the adapter configuration file and stored provider keys.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration interactively",
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	RunE:  runConfigValidate,
}

var configSetKeyCmd = &cobra.Command{
	Use:       "set-key <poe|openrouter>",
	Short:     "Store a provider API key in the OS keyring",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{config.SecretPoe, config.SecretOpenRouter},
	RunE:      runConfigSetKey,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configSetKeyCmd)
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	color.Blue("%s configuration setup", AppName)
	color.Yellow("Press enter to keep the value in brackets.")

	cfg := config.Default()
	if cfgMgr.Exists() {
		loaded, err := cfgMgr.Load()
		if err != nil {
			return err
		}
		cfg = *loaded
	}

	reader := bufio.NewReader(cmd.InOrStdin())
	out := cmd.OutOrStdout()

	cfg.Model = prompt(reader, out, "Default model (provider:name)", cfg.Model)
	cfg.LMStudio.Base = prompt(reader, out, "LM Studio URL", cfg.LMStudio.Base)
	cfg.LMStudio.Model = prompt(reader, out, "LM Studio model", cfg.LMStudio.Model)
	cfg.Host = prompt(reader, out, "Listen host", cfg.Host)

	if err := config.Validate(&cfg); err != nil {
		return err
	}

	if err := cfgMgr.Save(&cfg); err != nil {
		return err
	}

	color.Green("Configuration saved to %s", cfgMgr.GetPath())
	fmt.Fprintf(out, "Store provider keys with '%s config set-key poe' or '%s config set-key openrouter'.\n", AppName, AppName)
	return nil
}

func prompt(r *bufio.Reader, w io.Writer, label, current string) string {
	fmt.Fprintf(w, "%s [%s]: ", label, current)
	line, _ := r.ReadString('\n')
	if line = strings.TrimSpace(line); line != "" {
		return line
	}
	return current
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cfg, err := cfgMgr.Load()
	if err != nil {
		return err
	}

	shown := *cfg
	shown.Poe.APIKey = maskKey(shown.Poe.APIKey)
	shown.OpenRouter.APIKey = maskKey(shown.OpenRouter.APIKey)

	data, err := yaml.Marshal(&shown)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	color.Blue("Configuration (%s):", cfgMgr.GetPath())
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func maskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	cfg, err := cfgMgr.Load()
	if err != nil {
		color.Red("Configuration is invalid")
		return err
	}

	settings := models.SettingsFromConfig(cfg)
	if cfg.Model != "" {
		target, err := models.Resolve(cfg.Model, settings)
		if err != nil {
			return fmt.Errorf("default model: %w", err)
		}
		if err := models.CheckAllowed(target, settings); err != nil {
			return fmt.Errorf("default model: %w", err)
		}
	}

	for _, p := range []models.Provider{models.Poe, models.OpenRouter} {
		if !settings.HasCredential(p) {
			color.Yellow("No API key for %s; %s: models will be rejected", p, p)
		}
	}

	color.Green("Configuration is valid")
	return nil
}

func runConfigSetKey(cmd *cobra.Command, args []string) error {
	name := strings.ToLower(args[0])
	if name != config.SecretPoe && name != config.SecretOpenRouter {
		return fmt.Errorf("unknown provider %q (expected %s or %s)", args[0], config.SecretPoe, config.SecretOpenRouter)
	}

	key, err := readSecret(cmd, fmt.Sprintf("%s API key: ", name))
	if err != nil {
		return err
	}
	if key == "" {
		return fmt.Errorf("empty key, nothing stored")
	}

	if err := cfgMgr.Secrets().Set(name, key); err != nil {
		return err
	}

	color.Green("Stored %s key in the OS keyring", name)
	return nil
}

// readSecret reads without echo from a terminal, or a single line otherwise.
func readSecret(cmd *cobra.Command, label string) (string, error) {
	out := cmd.OutOrStdout()
	fmt.Fprint(out, label)

	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		raw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("read key: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read key: %w", err)
	}
	return strings.TrimSpace(line), nil
}
