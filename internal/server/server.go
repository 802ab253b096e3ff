package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/llmgate/toolgate/internal/backend"
	"github.com/llmgate/toolgate/internal/config"
	"github.com/llmgate/toolgate/internal/httpapi"
	"github.com/llmgate/toolgate/internal/middleware"
	"github.com/llmgate/toolgate/internal/orchestrator"
	"github.com/llmgate/toolgate/internal/rag"
	"github.com/llmgate/toolgate/internal/tools"
)

type Server struct {
	config       *config.Manager
	backend      backend.Backend
	orchestrator *orchestrator.Orchestrator
	ragIndex     *rag.Index
	logger       *slog.Logger
	server       *http.Server
}

// New wires the gateway's single backend (component B), tool registry
// (component C), and orchestrator (component E) from the loaded config.
// If a RAG index is configured (BASE_URL set), it is also constructed
// and its updater launched in the background once the server starts.
func New(configManager *config.Manager, logger *slog.Logger) (*Server, error) {
	cfg := configManager.Get()
	if cfg == nil {
		return nil, errors.New("configuration not loaded")
	}

	be, err := backend.NewRegistry(cfg, nil, logger)
	if err != nil {
		return nil, fmt.Errorf("construct backend: %w", err)
	}

	toolRegistry := tools.NewRegistry()
	if err := tools.RegisterEcho(toolRegistry); err != nil {
		return nil, fmt.Errorf("register built-in tools: %w", err)
	}

	var ragIndex *rag.Index
	var pauser orchestrator.RAGPauser
	if cfg.RAG.BaseURL != "" {
		var embedder rag.Embedder
		if cfg.RAG.EmbeddingModel != "" {
			ocfg := openai.DefaultConfig(cfg.BackendAPIKey)
			ocfg.BaseURL = cfg.BackendEndpoint
			embedder = &rag.OpenAIEmbedder{Client: openai.NewClientWithConfig(ocfg), Model: cfg.RAG.EmbeddingModel}
		}
		var reranker rag.Reranker
		if cfg.RAG.RerankEnabled && cfg.RAG.RerankModel != "" {
			reranker = &rag.HTTPReranker{Endpoint: cfg.BackendEndpoint, APIKey: cfg.BackendAPIKey, Model: cfg.RAG.RerankModel}
		}
		var enricher *rag.ContextualEnricher
		if cfg.RAG.ContextualEnrichment {
			enricher = &rag.ContextualEnricher{Backend: be.Active()}
		}

		dataDir := filepath.Join(filepath.Dir(configManager.GetPath()), "rag-index")
		idx, err := rag.NewIndex(cfg.RAG, dataDir, embedder, reranker, enricher, logger)
		if err != nil {
			return nil, fmt.Errorf("construct rag index: %w", err)
		}
		if err := toolRegistry.Register("search_knowledge_base", "Searches the configured knowledge base for passages relevant to a query.", searchArgs{}, ragSearchHandler(idx)); err != nil {
			return nil, fmt.Errorf("register rag search tool: %w", err)
		}
		ragIndex = idx
		pauser = idx
	}

	systemPrompt := orchestrator.NewSystemPromptSource(cfg.SystemPromptPath, cfg.DefaultSystemPrompt)
	limits := orchestrator.Limits{
		MaxIterations:            cfg.MaxToolIterations,
		ToolLoopTimeout:          cfg.ToolLoopTimeout,
		FinalSynthesisTimeout:    cfg.FinalSynthesisTimeout,
		FirstIterationToolChoice: backend.ToolChoice(cfg.FirstIterationToolChoice),
		MaxToolResultChars:       cfg.MaxToolResultChars,
	}

	orch := orchestrator.New(be.Active(), toolRegistry, limits, systemPrompt, pauser, logger)

	return &Server{
		config:       configManager,
		backend:      be.Active(),
		orchestrator: orch,
		ragIndex:     ragIndex,
		logger:       logger,
	}, nil
}

func (s *Server) Start() error {
	cfg := s.config.Get()
	if cfg == nil {
		return errors.New("configuration not loaded")
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	if cfg.HealthCheckOnStartup {
		probeCtx, probeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		result := s.backend.Health(probeCtx)
		probeCancel()
		if result.Status != backend.HealthOK {
			return fmt.Errorf("startup health check failed: %s", result.Message)
		}
		s.logger.Info("Startup health check passed", "backend", s.backend.Name())
	}

	// Setup routes
	mux := s.setupRoutes()

	s.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
	}

	if warning := config.NonLoopbackWarning(cfg.Host); warning != "" {
		s.logger.Warn(warning)
	}

	var updaterCancel context.CancelFunc
	if s.ragIndex != nil {
		var updaterCtx context.Context
		updaterCtx, updaterCancel = context.WithCancel(context.Background())
		updater := &rag.Updater{
			Index: s.ragIndex,
			Discovery: rag.DiscoveryConfig{
				Mode:     crawlModeFromConfig(cfg.RAG.CrawlMode),
				BaseURL:  cfg.RAG.BaseURL,
				Seeds:    []string{cfg.RAG.BaseURL},
				MaxDepth: cfg.RAG.MaxCrawlDepth,
				MaxPages: cfg.RAG.MaxPages,
			},
			Interval:         cfg.RAG.UpdateInterval,
			BatchSize:        cfg.RAG.UpdateBatchSize,
			RebuildThreshold: cfg.RAG.RebuildThreshold,
			Logger:           s.logger,
		}
		go updater.Run(updaterCtx)
		// The contextual enrichment pass is its own long-lived task, distinct
		// from the updater; RunContextualPass is a no-op when enrichment is
		// not configured.
		go s.ragIndex.RunContextualPass(updaterCtx)
		defer func() {
			if updaterCancel != nil {
				updaterCancel()
			}
		}()
	}

	s.logger.Info("Starting server", "address", addr)

	// Start server in goroutine
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Server error", "error", err)
			// Check if it's an address-in-use error
			if strings.Contains(err.Error(), "address already in use") || strings.Contains(err.Error(), "bind: address already in use") {
				s.handleAddressInUse(addr)
				os.Exit(1)
			}
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	s.logger.Info("Server is shutting down...")

	// Create a deadline to wait for.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	s.logger.Info("Server exited")

	return nil
}

func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// crawlModeFromConfig maps the configured CRAWL_MODE string onto the rag
// package's CrawlMode enum, defaulting to sitemap discovery (the cheapest and
// most diff-friendly mode) for anything unrecognized.
func crawlModeFromConfig(mode string) rag.CrawlMode {
	switch rag.CrawlMode(mode) {
	case rag.CrawlModeRecursive:
		return rag.CrawlModeRecursive
	case rag.CrawlModeManual:
		return rag.CrawlModeManual
	default:
		return rag.CrawlModeSitemap
	}
}

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	cfg := s.config.Get()
	chatHandler := httpapi.NewChatCompletionsHandler(s.orchestrator, cfg.BackendModel, s.logger)
	healthHandler := &httpapi.HealthHandler{Backend: s.backend}
	modelsHandler := &httpapi.ModelsHandler{ModelName: cfg.BackendModel}

	middlewareSet := middleware.NewMiddlewareSet(s.logger)

	mux.Handle("/health", middlewareSet.HealthChain().Handler(healthHandler))
	mux.Handle("/v1/models", middlewareSet.DefaultChain().Handler(modelsHandler))
	mux.Handle("/v1/chat/completions", middlewareSet.DefaultChain().Handler(chatHandler))

	return mux
}

// handleAddressInUse attempts to find and display the PID using the specified address
func (s *Server) handleAddressInUse(addr string) {
	s.logger.Error("Address already in use", "address", addr)

	// Extract port from address
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		s.logger.Error("Failed to parse address", "address", addr, "error", err)
		return
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		s.logger.Error("Invalid port number", "port", portStr, "error", err)
		return
	}

	pid := s.findProcessUsingPort(port)
	if pid > 0 {
		processInfo := s.getProcessInfo(pid)
		s.logger.Error("Port is being used by another process",
			"port", port,
			"pid", pid,
			"process", processInfo)
	} else {
		s.logger.Error("Could not determine which process is using the port", "port", port)
	}
}

// findProcessUsingPort attempts to find the PID of the process using the specified port
func (s *Server) findProcessUsingPort(port int) int {
	switch runtime.GOOS {
	case "linux", "darwin":
		return s.findProcessUsingPortUnix(port)
	case "windows":
		return s.findProcessUsingPortWindows(port)
	default:
		s.logger.Warn("Unsupported OS for port detection", "os", runtime.GOOS)
		return 0
	}
}

// findProcessUsingPortUnix finds process using port on Unix-like systems
func (s *Server) findProcessUsingPortUnix(port int) int {
	// Try netstat first
	if pid := s.tryNetstat(port); pid > 0 {
		return pid
	}

	// Try lsof as fallback
	if pid := s.tryLsof(port); pid > 0 {
		return pid
	}

	// Try ss as another fallback
	if pid := s.trySS(port); pid > 0 {
		return pid
	}

	return 0
}

// tryNetstat attempts to find PID using netstat
func (s *Server) tryNetstat(port int) int {
	cmd := exec.Command("netstat", "-tlnp")

	output, err := cmd.Output()
	if err != nil {
		return 0
	}

	lines := strings.Split(string(output), "\n")
	portPattern := fmt.Sprintf(":%d ", port)

	for _, line := range lines {
		if strings.Contains(line, portPattern) && strings.Contains(line, "LISTEN") {
			// Extract PID from netstat output (format: PID/program_name)
			parts := strings.Fields(line)
			if len(parts) >= 7 {
				pidProgram := parts[6]
				if pidStr := strings.Split(pidProgram, "/")[0]; pidStr != "-" {
					if pid, err := strconv.Atoi(pidStr); err == nil {
						return pid
					}
				}
			}
		}
	}

	return 0
}

// tryLsof attempts to find PID using lsof
func (s *Server) tryLsof(port int) int {
	// Validate port range for security
	if port < 1 || port > 65535 {
		return 0
	}
	cmd := exec.Command("lsof", "-ti", fmt.Sprintf(":%d", port))

	output, err := cmd.Output()
	if err != nil {
		return 0
	}

	pidStr := strings.TrimSpace(string(output))
	if pidStr != "" {
		if pid, err := strconv.Atoi(pidStr); err == nil {
			return pid
		}
	}

	return 0
}

// trySS attempts to find PID using ss command
func (s *Server) trySS(port int) int {
	cmd := exec.Command("ss", "-tlnp")

	output, err := cmd.Output()
	if err != nil {
		return 0
	}

	lines := strings.Split(string(output), "\n")
	portPattern := fmt.Sprintf(":%d ", port)

	for _, line := range lines {
		if strings.Contains(line, portPattern) && strings.Contains(line, "LISTEN") {
			// Extract PID from ss output
			if idx := strings.Index(line, "pid="); idx != -1 {
				pidPart := line[idx+4:]
				if commaIdx := strings.Index(pidPart, ","); commaIdx != -1 {
					pidStr := pidPart[:commaIdx]
					if pid, err := strconv.Atoi(pidStr); err == nil {
						return pid
					}
				}
			}
		}
	}

	return 0
}

// findProcessUsingPortWindows finds process using port on Windows
func (s *Server) findProcessUsingPortWindows(port int) int {
	cmd := exec.Command("netstat", "-ano")

	output, err := cmd.Output()
	if err != nil {
		return 0
	}

	lines := strings.Split(string(output), "\n")
	portPattern := fmt.Sprintf(":%d ", port)

	for _, line := range lines {
		if strings.Contains(line, portPattern) && strings.Contains(line, "LISTENING") {
			parts := strings.Fields(line)
			if len(parts) >= 5 {
				pidStr := parts[4]
				if pid, err := strconv.Atoi(pidStr); err == nil {
					return pid
				}
			}
		}
	}

	return 0
}

// getProcessInfo attempts to get information about a process
func (s *Server) getProcessInfo(pid int) string {
	switch runtime.GOOS {
	case "linux", "darwin":
		return s.getProcessInfoUnix(pid)
	case "windows":
		return s.getProcessInfoWindows(pid)
	default:
		return fmt.Sprintf("PID %d", pid)
	}
}

// getProcessInfoUnix gets process info on Unix-like systems
func (s *Server) getProcessInfoUnix(pid int) string {
	// Validate PID range for security
	if pid < 1 || pid > 4194304 { // Max PID on most systems
		return fmt.Sprintf("PID %d (invalid)", pid)
	}
	// Try ps command
	cmd := exec.Command("ps", "-p", strconv.Itoa(pid), "-o", "comm=")

	output, err := cmd.Output()
	if err == nil {
		processName := strings.TrimSpace(string(output))
		if processName != "" {
			return fmt.Sprintf("%s (PID: %d)", processName, pid)
		}
	}

	return fmt.Sprintf("PID: %d", pid)
}

// getProcessInfoWindows gets process info on Windows
func (s *Server) getProcessInfoWindows(pid int) string {
	cmd := exec.Command("tasklist", "/FI", fmt.Sprintf("PID eq %d", pid), "/FO", "CSV", "/NH")

	output, err := cmd.Output()
	if err == nil {
		lines := strings.Split(string(output), "\n")
		if len(lines) > 0 && lines[0] != "" {
			// Parse CSV output
			parts := strings.Split(lines[0], ",")
			if len(parts) >= 1 {
				processName := strings.Trim(parts[0], "\"")
				return fmt.Sprintf("%s (PID: %d)", processName, pid)
			}
		}
	}

	return fmt.Sprintf("PID: %d", pid)
}
