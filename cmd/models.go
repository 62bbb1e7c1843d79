package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"

	"github.com/mihaisavezi/cc-adapter/internal/config"
	"github.com/mihaisavezi/cc-adapter/internal/models"
	"github.com/mihaisavezi/cc-adapter/internal/providers"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the models clients may request",
	Long:  `List the provider:model ids the adapter accepts. With --loaded, also ask LM Studio which models it has loaded.`,
	RunE:  runModels,
}

func init() {
	modelsCmd.Flags().Bool("loaded", false, "query the LM Studio server for loaded models")
}

func runModels(cmd *cobra.Command, _ []string) error {
	cfg := cfgMgr.Get()
	out := cmd.OutOrStdout()

	for _, id := range models.Available(models.SettingsFromConfig(cfg)) {
		fmt.Fprintln(out, id)
	}

	if listLoaded, _ := cmd.Flags().GetBool("loaded"); !listLoaded {
		return nil
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	ids, err := loadedLMStudioModels(ctx, cfg)
	if err != nil {
		return fmt.Errorf("list LM Studio models at %s: %w", cfg.LMStudio.Base, err)
	}

	color.Blue("Loaded in LM Studio:")
	for _, id := range ids {
		fmt.Fprintf(out, "%s:%s\n", models.LMStudio, id)
	}
	return nil
}

// loadedLMStudioModels lists the model ids served by the configured LM Studio instance.
func loadedLMStudioModels(ctx context.Context, cfg *config.Config) ([]string, error) {
	clientCfg := openai.DefaultConfig("")
	clientCfg.BaseURL = apiBase(cfg.LMStudio.Base)
	clientCfg.HTTPClient = providers.NewHTTPClient(*cfg)

	list, err := openai.NewClientWithConfig(clientCfg).ListModels(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// apiBase turns a chat completions endpoint into the API root.
func apiBase(endpoint string) string {
	return strings.TrimSuffix(strings.TrimRight(endpoint, "/"), "/chat/completions")
}
