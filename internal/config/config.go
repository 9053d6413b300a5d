package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	StoreChromem  = "chromem"
	StorePostgres = "postgres"

	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"

	DriverPgdriver = "pgdriver"
	DriverPQ       = "postgres"
)

type Config struct {
	Server    ServerConfig   `yaml:"server"`
	ChatLLM   LLMConfig      `yaml:"chat_llm"`
	VisionLLM LLMConfig      `yaml:"vision_llm"`
	EmbedLLM  EmbedConfig    `yaml:"embed_llm"`
	RAG       RAGConfig      `yaml:"rag"`
	Database  DatabaseConfig `yaml:"database"`
	Chromem   ChromemConfig  `yaml:"chromem"`
	Speech    SpeechConfig   `yaml:"speech"`
	OSS       OSSConfig      `yaml:"oss"`
	Storage   StorageConfig  `yaml:"storage"`
	Log       LogConfig      `yaml:"log"`
	Aliyun    AliyunConfig   `yaml:"aliyun"`
}

type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
}

type LLMConfig struct {
	BaseURL string `yaml:"base_url"`
	Key     string `yaml:"key"`
	Model   string `yaml:"model"`
}

type EmbedConfig struct {
	Provider  string `yaml:"provider"`
	BaseURL   string `yaml:"base_url"`
	Key       string `yaml:"key"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
	BatchSize int    `yaml:"batch_size"`
}

type RAGConfig struct {
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
	TopK         int    `yaml:"top_k"`
	GlobPattern  string `yaml:"glob_pattern"`
	VectorStore  string `yaml:"vector_store"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	Driver   string `yaml:"driver"`
	SSLMode  string `yaml:"sslmode"`
	Debug    bool   `yaml:"debug"`
}

type ChromemConfig struct {
	Path       string `yaml:"path"`
	Collection string `yaml:"collection"`
	InMemory   bool   `yaml:"in_memory"`
	Compress   bool   `yaml:"compress"`
}

type AliyunConfig struct {
	AccessKeyID     string `yaml:"access_key_id"`
	AccessKeySecret string `yaml:"access_key_secret"`
}

type SpeechConfig struct {
	AppKey                 string        `yaml:"app_key"`
	Region                 string        `yaml:"region"`
	SampleRate             int           `yaml:"sample_rate"`
	EnablePunctuation      bool          `yaml:"enable_punctuation_prediction"`
	EnableInverseNormalize bool          `yaml:"enable_inverse_text_normalization"`
	EnableVoiceDetection   bool          `yaml:"enable_voice_detection"`
	TokenRefreshMargin     time.Duration `yaml:"token_refresh_margin"`
	HTTPTimeout            time.Duration `yaml:"http_timeout"`
	SaveConvertedAudio     bool          `yaml:"save_converted_audio"`
	GatewayURL             string        `yaml:"gateway_url"`
	TokenDomain            string        `yaml:"token_domain"`
}

type OSSConfig struct {
	Bucket   string `yaml:"bucket"`
	Endpoint string `yaml:"endpoint"`
	Folder   string `yaml:"folder"`
}

type StorageConfig struct {
	UploadsDir string `yaml:"uploads_dir"`
	ImagesDir  string `yaml:"images_dir"`
	AudioDir   string `yaml:"audio_dir"`
	StagingDir string `yaml:"staging_dir"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when neither a file nor the environment set a value.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           "0.0.0.0:8080",
			ReadTimeout:    2 * time.Minute,
			WriteTimeout:   5 * time.Minute,
			MaxUploadBytes: 50 << 20,
		},
		ChatLLM: LLMConfig{
			BaseURL: "https://dashscope-intl.aliyuncs.com/compatible-mode/v1",
			Model:   "qwen-turbo",
		},
		VisionLLM: LLMConfig{
			BaseURL: "https://dashscope-intl.aliyuncs.com/compatible-mode/v1",
			Model:   "qwen-vl-max",
		},
		EmbedLLM: EmbedConfig{
			Provider:  ProviderOpenAI,
			BaseURL:   "https://dashscope-intl.aliyuncs.com/compatible-mode/v1",
			Model:     "text-embedding-v2",
			Dimension: 1536,
			BatchSize: 10,
		},
		RAG: RAGConfig{
			ChunkSize:    1000,
			ChunkOverlap: 0,
			TopK:         3,
			GlobPattern:  "*",
			VectorStore:  StorePostgres,
		},
		Database: DatabaseConfig{
			Port:    5432,
			Driver:  DriverPgdriver,
			SSLMode: "disable",
		},
		Chromem: ChromemConfig{
			Path:       "./chromemdb",
			Collection: "document_chunks",
		},
		Speech: SpeechConfig{
			Region:                 "ap-southeast-1",
			SampleRate:             16000,
			EnablePunctuation:      true,
			EnableInverseNormalize: true,
			TokenRefreshMargin:     5 * time.Minute,
			HTTPTimeout:            60 * time.Second,
		},
		OSS: OSSConfig{
			Folder: "multimodal_images",
		},
		Storage: StorageConfig{
			UploadsDir: "uploads",
			ImagesDir:  "images",
			AudioDir:   "audio",
			StagingDir: "uploads/incoming",
		},
		Log: LogConfig{
			Level: "debug",
		},
	}
}

// LoadConfig reads the optional YAML file at path, then the .env file next to the
// working directory, then overlays the process environment.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg.applyEnv()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	c.Server.Addr = getEnv("SERVER_ADDR", c.Server.Addr)
	c.Server.MaxUploadBytes = int64(getEnvAsInt("MAX_UPLOAD_BYTES", int(c.Server.MaxUploadBytes)))

	c.ChatLLM.Key = getEnv("DASHSCOPE_API_KEY", c.ChatLLM.Key)
	c.ChatLLM.BaseURL = getEnv("DASHSCOPE_BASE_URL", c.ChatLLM.BaseURL)
	c.ChatLLM.Model = getEnv("CHAT_MODEL", c.ChatLLM.Model)
	c.VisionLLM.Key = getEnv("DASHSCOPE_API_KEY", c.VisionLLM.Key)
	c.VisionLLM.BaseURL = getEnv("DASHSCOPE_BASE_URL", c.VisionLLM.BaseURL)
	c.VisionLLM.Model = getEnv("VISION_MODEL", c.VisionLLM.Model)
	c.EmbedLLM.Provider = getEnv("EMBEDDING_PROVIDER", c.EmbedLLM.Provider)
	c.EmbedLLM.Key = getEnv("DASHSCOPE_API_KEY", c.EmbedLLM.Key)
	c.EmbedLLM.BaseURL = getEnv("DASHSCOPE_BASE_URL", c.EmbedLLM.BaseURL)
	c.EmbedLLM.Model = getEnv("EMBEDDING_MODEL", c.EmbedLLM.Model)
	c.EmbedLLM.Dimension = getEnvAsInt("EMBEDDING_DIMENSION", c.EmbedLLM.Dimension)
	c.EmbedLLM.BatchSize = getEnvAsInt("EMBEDDING_BATCH_SIZE", c.EmbedLLM.BatchSize)

	c.RAG.ChunkSize = getEnvAsInt("CHUNK_SIZE", c.RAG.ChunkSize)
	c.RAG.ChunkOverlap = getEnvAsInt("CHUNK_OVERLAP", c.RAG.ChunkOverlap)
	c.RAG.TopK = getEnvAsInt("RAG_TOP_K", c.RAG.TopK)
	c.RAG.GlobPattern = getEnv("GLOB_PATTERN", c.RAG.GlobPattern)
	c.RAG.VectorStore = getEnv("VECTOR_STORE", c.RAG.VectorStore)

	c.Database.Host = getEnv("PG_HOST", c.Database.Host)
	c.Database.Port = getEnvAsInt("PG_PORT", c.Database.Port)
	c.Database.User = getEnv("PG_USER", c.Database.User)
	c.Database.Password = getEnv("PG_PASSWORD", c.Database.Password)
	c.Database.DBName = getEnv("PG_DATABASE", c.Database.DBName)
	c.Database.Driver = getEnv("PG_DRIVER", c.Database.Driver)
	c.Database.SSLMode = getEnv("PG_SSLMODE", c.Database.SSLMode)
	c.Database.Debug = getEnvAsBool("PG_DEBUG", c.Database.Debug)

	c.Chromem.Path = getEnv("CHROMEM_PATH", c.Chromem.Path)
	c.Chromem.Collection = getEnv("CHROMEM_COLLECTION", c.Chromem.Collection)
	c.Chromem.InMemory = getEnvAsBool("CHROMEM_IN_MEMORY", c.Chromem.InMemory)

	c.Aliyun.AccessKeyID = getEnv("ALIBABA_ACCESS_KEY_ID", c.Aliyun.AccessKeyID)
	c.Aliyun.AccessKeySecret = getEnv("ALIBABA_ACCESS_KEY_SECRET", c.Aliyun.AccessKeySecret)

	c.Speech.AppKey = getEnv("ALIBABA_NLS_APP_KEY", c.Speech.AppKey)
	c.Speech.Region = getEnv("ALIBABA_NLS_REGION", c.Speech.Region)
	c.Speech.SampleRate = getEnvAsInt("NLS_SAMPLE_RATE", c.Speech.SampleRate)
	c.Speech.EnableVoiceDetection = getEnvAsBool("NLS_ENABLE_VOICE_DETECTION", c.Speech.EnableVoiceDetection)
	c.Speech.SaveConvertedAudio = getEnvAsBool("NLS_SAVE_CONVERTED_AUDIO", c.Speech.SaveConvertedAudio)

	c.OSS.Bucket = getEnv("OSS_BUCKET_NAME", c.OSS.Bucket)
	c.OSS.Endpoint = getEnv("OSS_ENDPOINT", c.OSS.Endpoint)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
}

// Validate rejects settings no component can work with.
func (c *Config) Validate() error {
	if c.RAG.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.RAG.ChunkSize)
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("chunk overlap must be in [0, %d), got %d", c.RAG.ChunkSize, c.RAG.ChunkOverlap)
	}
	if c.RAG.TopK <= 0 {
		return fmt.Errorf("top k must be positive, got %d", c.RAG.TopK)
	}
	if c.EmbedLLM.Dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got %d", c.EmbedLLM.Dimension)
	}
	switch c.RAG.VectorStore {
	case StoreChromem, StorePostgres:
	default:
		return fmt.Errorf("unknown vector store %q", c.RAG.VectorStore)
	}
	switch c.EmbedLLM.Provider {
	case ProviderOpenAI, ProviderOllama:
	default:
		return fmt.Errorf("unknown embedding provider %q", c.EmbedLLM.Provider)
	}
	switch c.Database.Driver {
	case DriverPgdriver, DriverPQ:
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.RAG.VectorStore == StorePostgres {
		if c.Database.User == "" {
			return errors.New("database user is required for the postgres vector store (PG_USER)")
		}
		if c.Database.DBName == "" {
			return errors.New("database name is required for the postgres vector store (PG_DATABASE)")
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
