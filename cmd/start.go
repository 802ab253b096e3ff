package cmd

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/llmgate/toolgate/internal/config"
	"github.com/llmgate/toolgate/internal/process"
	"github.com/llmgate/toolgate/internal/server"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway service",
	Long:  `Start the tool-calling chat-completions gateway in the foreground.`,
	RunE:  runStart,
}

func runStart(cmd *cobra.Command, _ []string) error {
	// Setup logging
	verbose, _ := cmd.Flags().GetBool("verbose")
	logFile, _ := cmd.Flags().GetBool("log-file")
	setupLogging(verbose, logFile)

	// Ensure configuration exists
	if err := ensureConfigExists(); err != nil {
		return err
	}

	// Load configuration: the file when one exists, the environment otherwise
	// (ensureConfigExists only lets a file-less start through when
	// BACKEND_ENDPOINT is set).
	var cfg *config.Config
	if cfgMgr.Exists() {
		loaded, err := cfgMgr.Load()
		if err != nil {
			return err
		}
		cfg = loaded
	} else {
		envCfg := config.FromEnv(os.Getenv)
		cfgMgr.SetActive(&envCfg)
		cfg = &envCfg
	}

	color.Green("Starting %s v%s...", AppName, Version)
	logger.Info("Starting server",
		"host", cfg.Host,
		"port", cfg.Port,
		"backend_type", cfg.BackendType,
		"backend_endpoint", cfg.BackendEndpoint,
	)

	// Setup process management
	procMgr := process.NewManager(baseDir)
	if err := procMgr.WritePID(); err != nil {
		return err
	}
	defer procMgr.CleanupPID()

	// Create and start server
	srv, err := server.New(cfgMgr, logger)
	if err != nil {
		return err
	}
	return srv.Start()
}
