package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/chatrelay/internal/api"
	"github.com/kalambet/chatrelay/internal/config"
	"github.com/kalambet/chatrelay/internal/models"
	"github.com/kalambet/chatrelay/internal/proxy"
)

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Send a message to the running gateway and stream the answer",
	Long: `Send a message to the running gateway and stream the answer to stdout.

Examples:
  chatrelay chat --api-key $GROQ_API_KEY "What is a goroutine?"
  chatrelay chat --history ./history.json --model llama-3.3-70b-versatile "And a channel?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		apiKey, _ := cmd.Flags().GetString("api-key")
		historyFile, _ := cmd.Flags().GetString("history")
		model, _ := cmd.Flags().GetString("model")
		if apiKey == "" {
			apiKey = os.Getenv("CHATRELAY_API_KEY")
		}
		if apiKey == "" {
			return errors.New("an upstream API key is required (--api-key or CHATRELAY_API_KEY)")
		}

		payload, err := chatPayload(apiKey, strings.Join(args, " "), historyFile, model)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := client.chat(cmd.Context(), payload, os.Stdout); err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout)
		return nil
	},
}

func init() {
	chatCmd.Flags().String("api-key", "", "upstream provider API key (default $CHATRELAY_API_KEY)")
	chatCmd.Flags().String("history", "", `JSON file with prior turns: [{"role":"user","message":"..."}]`)
	chatCmd.Flags().String("model", "", "model id from the gateway's registry")
}

func chatPayload(apiKey, message, historyFile, model string) (map[string]any, error) {
	history := json.RawMessage("[]")
	if historyFile != "" {
		data, err := os.ReadFile(historyFile)
		if err != nil {
			return nil, fmt.Errorf("reading history: %w", err)
		}
		if !json.Valid(data) {
			return nil, fmt.Errorf("history file %s is not valid JSON", historyFile)
		}
		history = data
	}

	payload := map[string]any{
		"api_key": apiKey,
		"message": message,
		"history": history,
	}
	if model != "" {
		payload["model_id"] = model
	}
	return payload, nil
}

// --- models ---

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the models callers may select",
	Long: `List the models callers may select.

With --upstream, ask the configured OpenAI-compatible upstream which models
the given key can use and check them against the registry.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadSettings()
		if err != nil {
			return err
		}
		reg, err := models.Load(cfg.Models.File)
		if err != nil {
			return err
		}

		if fromUpstream, _ := cmd.Flags().GetBool("upstream"); fromUpstream {
			if cfg.Upstream.Provider != config.ProviderOpenAI {
				return fmt.Errorf("--upstream is only supported for the %s provider", config.ProviderOpenAI)
			}
			apiKey, _ := cmd.Flags().GetString("api-key")
			if apiKey == "" {
				apiKey = os.Getenv("CHATRELAY_API_KEY")
			}
			if apiKey == "" {
				return errors.New("an upstream API key is required (--api-key or CHATRELAY_API_KEY)")
			}
			return printUpstreamModels(cmd.Context(), os.Stdout, proxy.NewProvider(cfg.Upstream.BaseURL, nil), apiKey, reg)
		}
		if err != nil {
			return err
		}
		printModels(os.Stdout, reg)
		return nil
	},
}

func init() {
	modelsCmd.Flags().Bool("upstream", false, "list the models the upstream serves instead of the registry")
	modelsCmd.Flags().String("api-key", "", "upstream provider API key (default $CHATRELAY_API_KEY)")
}

// upstreamLister is satisfied by *proxy.Provider.
type upstreamLister interface {
	ListModels(ctx context.Context, apiKey string) ([]proxy.Model, error)
}

// printUpstreamModels lists what the upstream serves, marking registry
// entries, and warns about registry ids the upstream does not know.
func printUpstreamModels(ctx context.Context, w io.Writer, l upstreamLister, apiKey string, reg *models.Registry) error {
	served, err := l.ListModels(ctx, apiKey)
	if err != nil {
		return fmt.Errorf("listing upstream models: %w", err)
	}

	known := make(map[string]bool, len(served))
	for _, m := range served {
		known[m.ID] = true
		marker := " "
		if _, ok := reg.Lookup(m.ID); ok {
			marker = colorize(colorGreen, "+")
		}
		fmt.Fprintf(w, "%s %s\n", marker, m.ID)
	}
	for _, d := range reg.All() {
		if !known[d.ID] {
			printWarning("registry model %q is not served by the upstream", d.ID)
		}
	}
	return nil
}

func printModels(w io.Writer, reg *models.Registry) {
	if !reg.Selectable() {
		fmt.Fprintln(w, "Model selection is disabled (no models.file configured).")
		return
	}
	for _, d := range reg.All() {
		marker := " "
		if d.Default {
			marker = colorize(colorGreen, "*")
		}
		fmt.Fprintf(w, "%s %s  %s\n", marker, colorize(colorBold, d.ID), d.DisplayName)
	}
}

// --- mcp ---

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the gateway as MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP(cmd.Context(), os.Stdin, os.Stdout)
	},
}

func runMCP(ctx context.Context, in io.Reader, out io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	deps, err := buildDeps(cfg, false)
	if err != nil {
		return err
	}

	mcpSrv := api.NewMCPServer(api.NewGateway(deps), version)
	slog.Info("MCP server started (stdio transport)", "provider", deps.Provider.Name())

	err = server.NewStdioServer(mcpSrv).Listen(ctx, in, out)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadSettings()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value.\n\nValid keys:\n  " + strings.Join(config.ValidKeys(), "\n  "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
