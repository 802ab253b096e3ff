// Package config holds the gateway's frozen settings record and a small
// YAML/JSON-backed loader. Reading settings from environment variables is an
// external collaborator: FromEnv is a pure function so a thin main() can wire
// it up, but this package never reads os.Environ itself.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// BackendType selects which of the two wire dialects the adapter speaks.
type BackendType string

const (
	BackendNative           BackendType = "native"
	BackendOpenAICompatible BackendType = "openai-compatible"
)

const (
	DefaultPort                  = 8080
	DefaultConfigFilename        = "config.json"
	DefaultYAMLFilename          = "config.yaml"
	DefaultHost                  = "127.0.0.1"
	DefaultConnectTimeout        = 5 * time.Second
	DefaultReadTimeout           = 5 * time.Minute
	DefaultRetryAttempts         = 3
	DefaultRetryInitDelay        = 1 * time.Second
	DefaultMaxToolIters          = 5
	DefaultToolLoopTimeout       = 120 * time.Second
	DefaultFinalSynthesisTimeout = 30 * time.Second
	DefaultFirstToolChoice       = "auto"
	DefaultMaxToolResult         = 8000
	DefaultTemperature           = 0.7
	DefaultUpdateInterval        = 1 * time.Hour
	DefaultMinUpdateInt          = 5 * time.Minute
	DefaultUpdateBatchSize       = 50
	DefaultRebuildThreshold      = 0.3
	DefaultChildTokens           = 350
	DefaultChildMinTokens        = 150
	DefaultParentTokens          = 900
	DefaultLexicalWeight         = 0.3
	DefaultSemanticWeight        = 0.7
	DefaultSearchTopK            = 8
	DefaultCandidateMult         = 4
	DefaultPageCacheTTL          = 24 * time.Hour

	// unsetDuration marks TOOL_LOOP_TIMEOUT as not yet configured, distinct
	// from an explicit 0 (which disables the wall-clock budget entirely).
	unsetDuration = time.Duration(-1)
)

// RAGConfig carries every RAG_* setting. A zero-value RAGConfig (BaseURL
// empty) means no RAG index is attached; the orchestrator then skips the
// retrieval step entirely and the gateway serves pure tool-calling traffic.
type RAGConfig struct {
	BaseURL                string        `json:"BASE_URL,omitempty" yaml:"base_url,omitempty"`
	CrawlMode              string        `json:"CRAWL_MODE,omitempty" yaml:"crawl_mode,omitempty"`
	CacheDir               string        `json:"CACHE_DIR,omitempty" yaml:"cache_dir,omitempty"`
	MaxCrawlDepth          int           `json:"MAX_CRAWL_DEPTH,omitempty" yaml:"max_crawl_depth,omitempty"`
	MaxPages               int           `json:"MAX_PAGES,omitempty" yaml:"max_pages,omitempty"`
	RequestTimeout         time.Duration `json:"REQUEST_TIMEOUT,omitempty" yaml:"request_timeout,omitempty"`
	PageCacheTTL           time.Duration `json:"PAGE_CACHE_TTL_HOURS,omitempty" yaml:"page_cache_ttl,omitempty"`
	UpdateInterval         time.Duration `json:"UPDATE_INTERVAL_HOURS,omitempty" yaml:"update_interval,omitempty"`
	UpdateBatchSize        int           `json:"UPDATE_BATCH_SIZE,omitempty" yaml:"update_batch_size,omitempty"`
	RebuildThreshold       float64       `json:"REBUILD_THRESHOLD,omitempty" yaml:"rebuild_threshold,omitempty"`
	ChildChunkTokens       int           `json:"CHILD_CHUNK_SIZE,omitempty" yaml:"child_chunk_size,omitempty"`
	ParentChunkTokens      int           `json:"PARENT_CHUNK_SIZE,omitempty" yaml:"parent_chunk_size,omitempty"`
	ChildChunkMinTokens    int           `json:"CHILD_CHUNK_MIN_TOKENS,omitempty" yaml:"child_chunk_min_tokens,omitempty"`
	ParentChunkMinTokens   int           `json:"PARENT_CHUNK_MIN_TOKENS,omitempty" yaml:"parent_chunk_min_tokens,omitempty"`
	HybridLexicalWeight    float64       `json:"HYBRID_LEXICAL_WEIGHT,omitempty" yaml:"hybrid_lexical_weight,omitempty"`
	HybridSemanticWeight   float64       `json:"HYBRID_SEMANTIC_WEIGHT,omitempty" yaml:"hybrid_semantic_weight,omitempty"`
	SearchTopK             int           `json:"SEARCH_TOP_K,omitempty" yaml:"search_top_k,omitempty"`
	RetrieverCandidateMult int           `json:"RETRIEVER_CANDIDATE_MULTIPLIER,omitempty" yaml:"retriever_candidate_multiplier,omitempty"`
	RerankEnabled          bool          `json:"RERANK_ENABLED,omitempty" yaml:"rerank_enabled,omitempty"`
	EmbeddingModel         string        `json:"EMBEDDING_MODEL,omitempty" yaml:"embedding_model,omitempty"`
	RerankModel            string        `json:"RERANK_MODEL,omitempty" yaml:"rerank_model,omitempty"`
	ContextualEnrichment   bool          `json:"CONTEXTUAL_ENRICHMENT,omitempty" yaml:"contextual_enrichment,omitempty"`
}

// Config is the gateway's frozen settings record (component A). It is built
// once at startup and never mutated; callers that need a per-request override
// (e.g. the model name) thread it separately rather than writing back here.
type Config struct {
	Host                 string `json:"BIND_HOST,omitempty" yaml:"host,omitempty"`
	Port                 int    `json:"BIND_PORT,omitempty" yaml:"port,omitempty"`
	HealthCheckOnStartup bool   `json:"HEALTH_CHECK_ON_STARTUP,omitempty" yaml:"health_check_on_startup,omitempty"`

	BackendType           BackendType   `json:"BACKEND_TYPE,omitempty" yaml:"backend_type,omitempty"`
	BackendEndpoint       string        `json:"BACKEND_ENDPOINT,omitempty" yaml:"backend_endpoint,omitempty"`
	// BackendAPIKey authenticates toolgate's own outbound calls to the
	// configured backend (a local inference server may still require a
	// bearer token even though the gateway itself trusts its caller
	// unconditionally). It is never checked against incoming requests.
	BackendAPIKey         string        `json:"BACKEND_API_KEY,omitempty" yaml:"backend_api_key,omitempty"`
	BackendModel          string        `json:"BACKEND_MODEL,omitempty" yaml:"backend_model,omitempty"`
	BackendConnectTimeout time.Duration `json:"BACKEND_CONNECT_TIMEOUT,omitempty" yaml:"backend_connect_timeout,omitempty"`
	BackendReadTimeout    time.Duration `json:"BACKEND_READ_TIMEOUT,omitempty" yaml:"backend_read_timeout,omitempty"`
	BackendRetryAttempts  int           `json:"BACKEND_RETRY_ATTEMPTS,omitempty" yaml:"backend_retry_attempts,omitempty"`
	BackendRetryInitDelay time.Duration `json:"BACKEND_RETRY_INITIAL_DELAY,omitempty" yaml:"backend_retry_initial_delay,omitempty"`

	MaxToolIterations        int           `json:"MAX_TOOL_ITERATIONS,omitempty" yaml:"max_tool_iterations,omitempty"`
	ToolLoopTimeout          time.Duration `json:"TOOL_LOOP_TIMEOUT,omitempty" yaml:"tool_loop_timeout,omitempty"`
	// FinalSynthesisTimeout bounds the one last no-tools call the orchestrator
	// makes once the tool loop's own wall-clock budget (ToolLoopTimeout) is
	// exhausted. It runs against a fresh context derived from the original
	// request, not the expired loop deadline, so a long tool loop never starves
	// the answer the caller is actually waiting on.
	FinalSynthesisTimeout    time.Duration `json:"FINAL_SYNTHESIS_TIMEOUT,omitempty" yaml:"final_synthesis_timeout,omitempty"`
	FirstIterationToolChoice string        `json:"FIRST_ITERATION_TOOL_CHOICE,omitempty" yaml:"first_iteration_tool_choice,omitempty"`
	MaxToolResultChars       int           `json:"MAX_TOOL_RESULT_CHARS,omitempty" yaml:"max_tool_result_chars,omitempty"`
	SystemPromptPath         string        `json:"SYSTEM_PROMPT_PATH,omitempty" yaml:"system_prompt_path,omitempty"`
	DefaultSystemPrompt      string        `json:"-" yaml:"default_system_prompt,omitempty"`
	DefaultTemperature       float64       `json:"DEFAULT_TEMPERATURE,omitempty" yaml:"default_temperature,omitempty"`

	RAG RAGConfig `json:"RAG,omitempty" yaml:"rag,omitempty"`
}

// Manager loads and atomically snapshots a Config from disk: YAML preferred,
// JSON fallback, lock-free reads via sync/atomic.
type Manager struct {
	baseDir     string
	jsonPath    string
	yamlPath    string
	configValue atomic.Value
}

func NewManager(baseDir string) *Manager {
	return &Manager{
		baseDir:  baseDir,
		jsonPath: filepath.Join(baseDir, DefaultConfigFilename),
		yamlPath: filepath.Join(baseDir, DefaultYAMLFilename),
	}
}

func (m *Manager) Load() (*Config, error) {
	var cfg Config
	var err error

	switch {
	case m.HasYAML():
		cfg, err = m.loadYAML()
		if err != nil {
			return nil, fmt.Errorf("load YAML config: %w", err)
		}
	case m.HasJSON():
		cfg, err = m.loadJSON()
		if err != nil {
			return nil, fmt.Errorf("load JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("no configuration file found (looked for %s or %s)", m.yamlPath, m.jsonPath)
	}

	ApplyDefaults(&cfg)
	m.configValue.Store(&cfg)
	return &cfg, nil
}

func (m *Manager) loadYAML() (Config, error) {
	cfg := newConfigWithUnsetSentinels()

	data, err := os.ReadFile(m.yamlPath)
	if err != nil {
		return cfg, fmt.Errorf("read YAML config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal YAML config: %w", err)
	}

	return cfg, nil
}

func (m *Manager) loadJSON() (Config, error) {
	cfg := newConfigWithUnsetSentinels()

	data, err := os.ReadFile(m.jsonPath)
	if err != nil {
		return cfg, fmt.Errorf("read JSON config file: %w", err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal JSON config: %w", err)
	}

	return cfg, nil
}

// newConfigWithUnsetSentinels seeds the handful of fields that mean something
// different at zero than at "key absent" (TOOL_LOOP_TIMEOUT: 0 disables the
// budget, but an absent key should still pick up the documented 120s default).
// Unmarshaling a present key overwrites the sentinel; an absent key leaves it,
// and ApplyDefaults turns the sentinel into the real default.
func newConfigWithUnsetSentinels() Config {
	var cfg Config
	cfg.ToolLoopTimeout = unsetDuration
	return cfg
}

// ApplyDefaults fills zero-valued fields with the gateway's documented defaults.
// RAG defaults only apply once a BaseURL is set — an empty RAGConfig means
// the index is not attached at all.
func ApplyDefaults(cfg *Config) {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.BackendType == "" {
		cfg.BackendType = BackendOpenAICompatible
	}
	if cfg.BackendConnectTimeout == 0 {
		cfg.BackendConnectTimeout = DefaultConnectTimeout
	}
	if cfg.BackendReadTimeout == 0 {
		cfg.BackendReadTimeout = DefaultReadTimeout
	}
	if cfg.BackendRetryAttempts == 0 {
		cfg.BackendRetryAttempts = DefaultRetryAttempts
	}
	if cfg.BackendRetryInitDelay == 0 {
		cfg.BackendRetryInitDelay = DefaultRetryInitDelay
	}
	if cfg.MaxToolIterations == 0 {
		cfg.MaxToolIterations = DefaultMaxToolIters
	}
	if cfg.ToolLoopTimeout < 0 {
		cfg.ToolLoopTimeout = DefaultToolLoopTimeout
	}
	if cfg.FinalSynthesisTimeout == 0 {
		cfg.FinalSynthesisTimeout = DefaultFinalSynthesisTimeout
	}
	if cfg.FirstIterationToolChoice == "" {
		cfg.FirstIterationToolChoice = DefaultFirstToolChoice
	}
	if cfg.MaxToolResultChars == 0 {
		cfg.MaxToolResultChars = DefaultMaxToolResult
	}
	if cfg.DefaultTemperature == 0 {
		cfg.DefaultTemperature = DefaultTemperature
	}
	if cfg.DefaultSystemPrompt == "" {
		cfg.DefaultSystemPrompt = "You are a helpful assistant."
	}

	r := &cfg.RAG
	if r.BaseURL == "" {
		return
	}
	if r.CrawlMode == "" {
		r.CrawlMode = "sitemap"
	}
	if r.UpdateInterval == 0 {
		r.UpdateInterval = DefaultUpdateInterval
	}
	if r.UpdateInterval < DefaultMinUpdateInt {
		r.UpdateInterval = DefaultMinUpdateInt
	}
	if r.UpdateBatchSize == 0 {
		r.UpdateBatchSize = DefaultUpdateBatchSize
	}
	if r.RebuildThreshold == 0 {
		r.RebuildThreshold = DefaultRebuildThreshold
	}
	if r.ChildChunkTokens == 0 {
		r.ChildChunkTokens = DefaultChildTokens
	}
	if r.ChildChunkMinTokens == 0 {
		r.ChildChunkMinTokens = DefaultChildMinTokens
	}
	if r.ParentChunkTokens == 0 {
		r.ParentChunkTokens = DefaultParentTokens
	}
	if r.HybridLexicalWeight == 0 && r.HybridSemanticWeight == 0 {
		r.HybridLexicalWeight = DefaultLexicalWeight
		r.HybridSemanticWeight = DefaultSemanticWeight
	}
	if r.SearchTopK == 0 {
		r.SearchTopK = DefaultSearchTopK
	}
	if r.RetrieverCandidateMult == 0 {
		r.RetrieverCandidateMult = DefaultCandidateMult
	}
	if r.PageCacheTTL == 0 {
		r.PageCacheTTL = DefaultPageCacheTTL
	}
	if r.CacheDir == "" {
		r.CacheDir = filepath.Join(".", "rag_cache")
	}
}

// SetActive installs cfg as the live snapshot without touching disk. Used to
// run off pure environment configuration when no config file exists.
func (m *Manager) SetActive(cfg *Config) {
	m.configValue.Store(cfg)
}

func (m *Manager) Get() *Config {
	if v := m.configValue.Load(); v != nil {
		return v.(*Config)
	}

	cfg, err := m.Load()
	if err != nil {
		fallback := &Config{}
		ApplyDefaults(fallback)
		return fallback
	}
	return cfg
}

func (m *Manager) Save(cfg *Config) error {
	return m.SaveAsYAML(cfg)
}

func (m *Manager) SaveAsYAML(cfg *Config) error {
	if err := os.MkdirAll(m.baseDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal YAML config: %w", err)
	}

	if err := os.WriteFile(m.yamlPath, data, 0o644); err != nil {
		return fmt.Errorf("write YAML config file: %w", err)
	}

	m.configValue.Store(cfg)
	return nil
}

func (m *Manager) SaveAsJSON(cfg *Config) error {
	if err := os.MkdirAll(m.baseDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON config: %w", err)
	}

	if err := os.WriteFile(m.jsonPath, data, 0o644); err != nil {
		return fmt.Errorf("write JSON config file: %w", err)
	}

	m.configValue.Store(cfg)
	return nil
}

func (m *Manager) GetPath() string {
	if m.HasYAML() {
		return m.yamlPath
	}
	return m.jsonPath
}

func (m *Manager) GetYAMLPath() string {
	return m.yamlPath
}

func (m *Manager) GetJSONPath() string {
	return m.jsonPath
}

func (m *Manager) Exists() bool {
	return m.HasYAML() || m.HasJSON()
}

func (m *Manager) HasYAML() bool {
	_, err := os.Stat(m.yamlPath)
	return err == nil
}

func (m *Manager) HasJSON() bool {
	_, err := os.Stat(m.jsonPath)
	return err == nil
}

// CreateExampleYAML writes a starter configuration covering the common keys,
// for seeding a fresh install.
func (m *Manager) CreateExampleYAML() error {
	cfg := &Config{
		Host:            DefaultHost,
		Port:            DefaultPort,
		BackendType:     BackendOpenAICompatible,
		BackendEndpoint: "http://127.0.0.1:8000/v1",
		BackendAPIKey:   "",
		BackendModel:    "local-model",
	}
	ApplyDefaults(cfg)
	return m.SaveAsYAML(cfg)
}

// FromEnv builds a Config from an env-var lookup function, honoring the
// recognized environment variable key list. It is a pure function: toolgate
// never calls os.Getenv itself, keeping environment loading an external
// collaborator the caller controls.
func FromEnv(getenv func(string) string) Config {
	var cfg Config
	cfg.Host = getenv("BIND_HOST")
	cfg.Port = atoiOr(getenv("BIND_PORT"), 0)
	cfg.HealthCheckOnStartup = getenv("HEALTH_CHECK_ON_STARTUP") == "true"

	cfg.BackendType = BackendType(getenv("BACKEND_TYPE"))
	cfg.BackendEndpoint = getenv("BACKEND_ENDPOINT")
	cfg.BackendAPIKey = getenv("BACKEND_API_KEY")
	cfg.BackendModel = getenv("BACKEND_MODEL")
	cfg.BackendConnectTimeout = durationSecondsOr(getenv("BACKEND_CONNECT_TIMEOUT"), 0)
	cfg.BackendReadTimeout = durationSecondsOr(getenv("BACKEND_READ_TIMEOUT"), 0)
	cfg.BackendRetryAttempts = atoiOr(getenv("BACKEND_RETRY_ATTEMPTS"), 0)
	cfg.BackendRetryInitDelay = durationSecondsOr(getenv("BACKEND_RETRY_INITIAL_DELAY"), 0)

	cfg.MaxToolIterations = atoiOr(getenv("MAX_TOOL_ITERATIONS"), 0)
	cfg.ToolLoopTimeout = durationSecondsOr(getenv("TOOL_LOOP_TIMEOUT"), unsetDuration)
	cfg.FinalSynthesisTimeout = durationSecondsOr(getenv("FINAL_SYNTHESIS_TIMEOUT"), 0)
	cfg.FirstIterationToolChoice = getenv("FIRST_ITERATION_TOOL_CHOICE")
	cfg.MaxToolResultChars = atoiOr(getenv("MAX_TOOL_RESULT_CHARS"), 0)
	cfg.SystemPromptPath = getenv("SYSTEM_PROMPT_PATH")
	cfg.DefaultTemperature = atofOr(getenv("DEFAULT_TEMPERATURE"), 0)

	cfg.RAG.BaseURL = getenv("BASE_URL")
	cfg.RAG.CrawlMode = getenv("CRAWL_MODE")
	cfg.RAG.CacheDir = getenv("CACHE_DIR")
	cfg.RAG.MaxCrawlDepth = atoiOr(getenv("MAX_CRAWL_DEPTH"), 0)
	cfg.RAG.MaxPages = atoiOr(getenv("MAX_PAGES"), 0)
	cfg.RAG.RequestTimeout = durationSecondsOr(getenv("REQUEST_TIMEOUT"), 0)
	cfg.RAG.PageCacheTTL = durationHoursOr(getenv("PAGE_CACHE_TTL_HOURS"), 0)
	cfg.RAG.UpdateInterval = durationHoursOr(getenv("UPDATE_INTERVAL_HOURS"), 0)
	cfg.RAG.UpdateBatchSize = atoiOr(getenv("UPDATE_BATCH_SIZE"), 0)
	cfg.RAG.RebuildThreshold = atofOr(getenv("REBUILD_THRESHOLD"), 0)
	cfg.RAG.ChildChunkTokens = atoiOr(getenv("CHILD_CHUNK_SIZE"), 0)
	cfg.RAG.ParentChunkTokens = atoiOr(getenv("PARENT_CHUNK_SIZE"), 0)
	cfg.RAG.ChildChunkMinTokens = atoiOr(getenv("CHILD_CHUNK_MIN_TOKENS"), 0)
	cfg.RAG.ParentChunkMinTokens = atoiOr(getenv("PARENT_CHUNK_MIN_TOKENS"), 0)
	cfg.RAG.HybridLexicalWeight = atofOr(getenv("HYBRID_LEXICAL_WEIGHT"), 0)
	cfg.RAG.HybridSemanticWeight = atofOr(getenv("HYBRID_SEMANTIC_WEIGHT"), 0)
	cfg.RAG.SearchTopK = atoiOr(getenv("SEARCH_TOP_K"), 0)
	cfg.RAG.RetrieverCandidateMult = atoiOr(getenv("RETRIEVER_CANDIDATE_MULTIPLIER"), 0)
	cfg.RAG.RerankEnabled = getenv("RERANK_ENABLED") == "true"
	cfg.RAG.EmbeddingModel = getenv("EMBEDDING_MODEL")
	cfg.RAG.RerankModel = getenv("RERANK_MODEL")
	cfg.RAG.ContextualEnrichment = getenv("CONTEXTUAL_ENRICHMENT") == "true"

	ApplyDefaults(&cfg)
	return cfg
}

func atoiOr(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func atofOr(s string, def float64) float64 {
	if s == "" {
		return def
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return v
}

func durationSecondsOr(s string, def time.Duration) time.Duration {
	n := atoiOr(s, -1)
	if n < 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

func durationHoursOr(s string, def time.Duration) time.Duration {
	n := atoiOr(s, -1)
	if n < 0 {
		return def
	}
	return time.Duration(n) * time.Hour
}

// NonLoopbackWarning returns a warning string when host is not a loopback
// address, matching the documented behavior for BIND_HOST.
func NonLoopbackWarning(host string) string {
	if host == "" || host == "127.0.0.1" || host == "localhost" || host == "::1" {
		return ""
	}
	return fmt.Sprintf("WARNING: binding to non-loopback host %q exposes the gateway to the network", host)
}
