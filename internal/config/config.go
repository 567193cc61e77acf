// Package config loads process configuration from the environment, an
// optional .env file and an optional hybrid retrieval YAML file.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	APIPort           string `env:"API_PORT" envDefault:"8080"`
	WorkerMetricsPort string `env:"WORKER_METRICS_PORT" envDefault:"9090"`
	LogLevel          string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat         string `env:"LOG_FORMAT" envDefault:"json"`

	APIRateLimitRPS            float64       `env:"API_RATE_LIMIT_RPS" envDefault:"0"`
	APIRateLimitBurst          int           `env:"API_RATE_LIMIT_BURST" envDefault:"20"`
	APIBackpressureMaxInFlight int           `env:"API_BACKPRESSURE_MAX_IN_FLIGHT" envDefault:"64"`
	APIBackpressureWait        time.Duration `env:"API_BACKPRESSURE_WAIT" envDefault:"250ms"`

	// Ingestion is enabled only when a DSN is set.
	PostgresDSN    string `env:"POSTGRES_DSN"`
	NATSURL        string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	NATSSubject    string `env:"NATS_SUBJECT" envDefault:"documents.ingest"`
	NATSQueueGroup string `env:"NATS_QUEUE_GROUP" envDefault:"indexers"`
	StoragePath    string `env:"STORAGE_PATH" envDefault:"./data/storage"`
	ChunkSize      int    `env:"CHUNK_SIZE" envDefault:"900"`
	ChunkOverlap   int    `env:"CHUNK_OVERLAP" envDefault:"150"`

	OllamaURL        string `env:"OLLAMA_URL" envDefault:"http://localhost:11434"`
	OllamaGenModel   string `env:"OLLAMA_GEN_MODEL" envDefault:"llama3.1:8b"`
	OllamaEmbedModel string `env:"OLLAMA_EMBED_MODEL" envDefault:"nomic-embed-text"`

	// VectorBackend is one of qdrant, qdrant_grpc or memory.
	VectorBackend    string `env:"VECTOR_BACKEND" envDefault:"qdrant"`
	QdrantURL        string `env:"QDRANT_URL" envDefault:"http://localhost:6333"`
	QdrantGRPCAddr   string `env:"QDRANT_GRPC_ADDR" envDefault:"localhost:6334"`
	QdrantAPIKey     string `env:"QDRANT_API_KEY"`
	QdrantUseTLS     bool   `env:"QDRANT_USE_TLS" envDefault:"false"`
	QdrantCollection string `env:"QDRANT_COLLECTION" envDefault:"documents"`
	VectorPoolSize   int    `env:"VECTOR_POOL_SIZE" envDefault:"0"`

	// Web search joins the hybrid retriever only when a key is set.
	WebSearchAPIKey  string        `env:"WEB_SEARCH_API_KEY"`
	WebSearchBaseURL string        `env:"WEB_SEARCH_BASE_URL" envDefault:"https://www.searchapi.io/api/v1/search"`
	WebSearchEngine  string        `env:"WEB_SEARCH_ENGINE" envDefault:"google"`
	WebSearchTimeout time.Duration `env:"WEB_SEARCH_TIMEOUT" envDefault:"10s"`

	HybridVectorWeight  float64       `env:"HYBRID_VECTOR_WEIGHT" envDefault:"0.7"`
	HybridWebWeight     float64       `env:"HYBRID_WEB_WEIGHT" envDefault:"0.3"`
	HybridPoolSize      int           `env:"HYBRID_POOL_SIZE" envDefault:"0"`
	HybridFailurePolicy string        `env:"HYBRID_FAILURE_POLICY" envDefault:"isolate"`
	HybridSourceTimeout time.Duration `env:"HYBRID_SOURCE_TIMEOUT" envDefault:"0s"`
	HybridConfigFile    string        `env:"HYBRID_CONFIG_FILE"`

	// RerankProvider is one of none, cohere, jina or local.
	RerankProvider        string        `env:"RERANK_PROVIDER" envDefault:"none"`
	RerankAPIKey          string        `env:"RERANK_API_KEY"`
	RerankBaseURL         string        `env:"RERANK_BASE_URL"`
	RerankModel           string        `env:"RERANK_MODEL"`
	RerankMaxRetries      int           `env:"RERANK_MAX_RETRIES" envDefault:"3"`
	RerankRetryBaseDelay  time.Duration `env:"RERANK_RETRY_BASE_DELAY" envDefault:"1s"`
	RerankTimeout         time.Duration `env:"RERANK_TIMEOUT" envDefault:"30s"`
	RerankLocalEncoder    string        `env:"RERANK_LOCAL_ENCODER" envDefault:"ollama"`
	ScoringPoolSize       int           `env:"SCORING_POOL_SIZE" envDefault:"0"`
	ScoringComputeTimeout time.Duration `env:"SCORING_COMPUTE_TIMEOUT" envDefault:"60s"`

	// LLMProvider is ollama or openai.
	LLMProvider         string        `env:"LLM_PROVIDER" envDefault:"ollama"`
	OpenAIAPIKey        string        `env:"OPENAI_API_KEY"`
	OpenAIAPIHost       string        `env:"OPENAI_API_HOST" envDefault:"https://api.openai.com/v1"`
	OpenAIModel         string        `env:"OPENAI_MODEL" envDefault:"gpt-3.5-turbo"`
	OpenAITimeout       time.Duration `env:"OPENAI_TIMEOUT" envDefault:"30s"`
	OpenAIMaxRetries    int           `env:"OPENAI_MAX_RETRIES" envDefault:"3"`
	OpenAIRetryDelay    time.Duration `env:"OPENAI_RETRY_DELAY" envDefault:"1s"`
	OpenAIRateLimit     int           `env:"OPENAI_RATE_LIMIT" envDefault:"60"`
	OpenAIRateUnit      time.Duration `env:"OPENAI_RATE_UNIT" envDefault:"1m"`
	OpenAIMaxConcurrent int           `env:"OPENAI_MAX_CONCURRENT" envDefault:"10"`

	RAGTopK    int `env:"RAG_TOP_K" envDefault:"5"`
	RAGMaxTopK int `env:"RAG_MAX_TOP_K" envDefault:"50"`
}

// Load reads .env when present, then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
