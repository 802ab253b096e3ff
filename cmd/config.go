package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/llmgate/toolgate/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Manage the toolgate gateway configuration.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration interactively",
	Long:  `Initialize configuration by prompting for the backend details.`,
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current configuration.`,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  `Validate the current configuration for errors.`,
	RunE:  runConfigValidate,
}

var configGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate example YAML configuration",
	Long:  `Generate an example YAML configuration file with the documented defaults.`,
	RunE:  runConfigGenerate,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configGenerateCmd)

	configGenerateCmd.Flags().BoolP("force", "f", false, "Overwrite existing configuration file")
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	color.Blue("toolgate Configuration Setup")
	color.Yellow("Follow the prompts to configure your backend.")

	reader := bufio.NewReader(os.Stdin)

	fmt.Print("\nBackend type (native, openai-compatible) [openai-compatible]: ")
	backendType, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("error reading backend type: %w", err)
	}
	backendType = strings.TrimSpace(backendType)
	if backendType == "" {
		backendType = string(config.BackendOpenAICompatible)
	}

	fmt.Print("Backend endpoint URL: ")
	endpoint, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("error reading backend endpoint: %w", err)
	}
	endpoint = strings.TrimSpace(endpoint)

	fmt.Print("Backend model name: ")
	model, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("error reading model: %w", err)
	}
	model = strings.TrimSpace(model)

	fmt.Print("Backend API key (optional, leave blank if your backend needs none): ")
	apiKey, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("error reading backend API key: %w", err)
	}
	apiKey = strings.TrimSpace(apiKey)

	cfg := &config.Config{
		Host:            config.DefaultHost,
		Port:            config.DefaultPort,
		BackendType:     config.BackendType(backendType),
		BackendEndpoint: endpoint,
		BackendAPIKey:   apiKey,
		BackendModel:    model,
	}
	config.ApplyDefaults(cfg)

	if err := cfgMgr.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	color.Green("Configuration saved successfully to: %s", cfgMgr.GetPath())
	color.Cyan("You can now start the gateway with: toolgate start")

	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		color.Yellow("No configuration found. Run 'toolgate config init' or 'toolgate config generate' to create one.")
		return nil
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	color.Blue("Current Configuration:")
	fmt.Printf("  %-24s: %s\n", "Host", cfg.Host)
	fmt.Printf("  %-24s: %d\n", "Port", cfg.Port)
	fmt.Printf("  %-24s: %s\n", "Config Path", cfgMgr.GetPath())

	configType := "JSON"
	if cfgMgr.HasYAML() {
		configType = "YAML"
	}
	fmt.Printf("  %-24s: %s\n", "Format", configType)

	fmt.Println("\nBackend:")
	fmt.Printf("  %-24s: %s\n", "Type", cfg.BackendType)
	fmt.Printf("  %-24s: %s\n", "Endpoint", cfg.BackendEndpoint)
	fmt.Printf("  %-24s: %s\n", "API Key", maskString(cfg.BackendAPIKey))
	fmt.Printf("  %-24s: %s\n", "Model", cfg.BackendModel)
	fmt.Printf("  %-24s: %s\n", "Connect Timeout", cfg.BackendConnectTimeout)
	fmt.Printf("  %-24s: %s\n", "Read Timeout", cfg.BackendReadTimeout)

	fmt.Println("\nOrchestrator:")
	fmt.Printf("  %-24s: %d\n", "Max Tool Iterations", cfg.MaxToolIterations)
	fmt.Printf("  %-24s: %s\n", "Tool Loop Timeout", cfg.ToolLoopTimeout)
	fmt.Printf("  %-24s: %s\n", "Final Synthesis Timeout", cfg.FinalSynthesisTimeout)
	fmt.Printf("  %-24s: %s\n", "First Tool Choice", cfg.FirstIterationToolChoice)

	if cfg.RAG.BaseURL != "" {
		fmt.Println("\nRAG Index:")
		fmt.Printf("  %-24s: %s\n", "Base URL", cfg.RAG.BaseURL)
		fmt.Printf("  %-24s: %s\n", "Cache Dir", cfg.RAG.CacheDir)
		fmt.Printf("  %-24s: %s\n", "Update Interval", cfg.RAG.UpdateInterval)
		fmt.Printf("  %-24s: %d\n", "Search Top K", cfg.RAG.SearchTopK)
	} else {
		fmt.Println("\nRAG Index: not attached (BASE_URL unset)")
	}

	return nil
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		return errors.New("no configuration found")
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	var validationErrors []string

	if cfg.BackendEndpoint == "" {
		validationErrors = append(validationErrors, "backend endpoint is required")
	}
	if cfg.BackendModel == "" {
		validationErrors = append(validationErrors, "backend model is required")
	}
	if cfg.BackendType != config.BackendNative && cfg.BackendType != config.BackendOpenAICompatible {
		validationErrors = append(validationErrors, fmt.Sprintf("backend type %q is not one of native, openai-compatible", cfg.BackendType))
	}
	if cfg.MaxToolIterations <= 0 {
		validationErrors = append(validationErrors, "max tool iterations must be positive")
	}
	if cfg.RAG.BaseURL != "" {
		total := cfg.RAG.HybridLexicalWeight + cfg.RAG.HybridSemanticWeight
		if total <= 0 {
			validationErrors = append(validationErrors, "RAG hybrid weights must sum to a positive value")
		}
	}

	if len(validationErrors) > 0 {
		color.Red("Configuration validation failed:")
		for _, e := range validationErrors {
			fmt.Printf("  - %s\n", e)
		}
		return errors.New("configuration validation failed")
	}

	color.Green("Configuration is valid!")
	return nil
}

func runConfigGenerate(cmd *cobra.Command, _ []string) error {
	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return err
	}

	if cfgMgr.Exists() && !force {
		configType := "JSON"
		if cfgMgr.HasYAML() {
			configType = "YAML"
		}

		color.Yellow("Configuration file already exists (%s format): %s", configType, cfgMgr.GetPath())
		color.Cyan("Use --force to overwrite, or 'toolgate config show' to view current config")

		return nil
	}

	if err := cfgMgr.CreateExampleYAML(); err != nil {
		return fmt.Errorf("failed to create example configuration: %w", err)
	}

	color.Green("Example YAML configuration created: %s", cfgMgr.GetYAMLPath())
	color.Cyan("\nNext steps:")
	fmt.Println("1. Edit the configuration file to point BACKEND_ENDPOINT at your model server")
	fmt.Println("2. Optionally set rag.base_url to attach a retrieval index")
	fmt.Println("3. Run 'toolgate config validate' to check your configuration")
	fmt.Println("4. Start the gateway with 'toolgate start'")

	return nil
}

func maskString(s string) string {
	if s == "" {
		return "(not set)"
	}

	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}

	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
