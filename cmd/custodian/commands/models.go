package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/custodian/internal/catalog"
	"github.com/opencode-ai/custodian/pkg/types"
)

var (
	modelsSelect string
	modelsClear  bool
)

var modelsCmd = &cobra.Command{
	Use:   "models [provider]",
	Short: "List available models",
	Long: `List the models the server's providers offer. The model prompts are
pinned to is marked with "*".

Examples:
  custodian models                                 # List all models
  custodian models anthropic                       # List only Anthropic models
  custodian models --select anthropic/claude-sonnet-4
  custodian models --clear                         # Use the server default`,
	Args: cobra.MaximumNArgs(1),
	RunE: runModels,
}

func init() {
	modelsCmd.Flags().StringVar(&modelsSelect, "select", "", "Pin prompts to provider/model")
	modelsCmd.Flags().BoolVar(&modelsClear, "clear", false, "Forget the pinned model")
}

func runModels(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	switch {
	case modelsClear:
		a.engine.ClearModel()
		a.out.Notice("using the server default model")
		return nil
	case modelsSelect != "":
		ref, err := catalog.ResolveModel(a.catalog.Providers(ctx), modelsSelect)
		if err != nil {
			return err
		}
		a.engine.SelectModel(ref.ProviderID, ref.ModelID)
		a.out.Notice("prompts will use %s", ref)
		return nil
	}

	providers, err := a.client.ListProviders(ctx)
	if err != nil {
		return fmt.Errorf("list providers: %w", err)
	}
	if len(args) > 0 {
		providers = filterProviders(providers, args[0])
	}
	a.out.Models(providers, a.engine.SelectedModel())
	return nil
}

func filterProviders(providers []types.ProviderInfo, id string) []types.ProviderInfo {
	var out []types.ProviderInfo
	for _, p := range providers {
		if p.ID == id {
			out = append(out, p)
		}
	}
	return out
}
