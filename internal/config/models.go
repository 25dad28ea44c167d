package config

import (
	"time"

	"github.com/mikey/sortana/internal/core"
)

// LLMConfig represents the configuration for the LLM provider
type LLMConfig struct {
	Provider string
}

// BedrockConfig represents the configuration for Amazon Bedrock
type BedrockConfig struct {
	Region  string
	ModelID string
}

// GeminiConfig represents the configuration for Google Gemini
type GeminiConfig struct {
	APIKey    string
	ModelName string
}

// OpenAIConfig represents the configuration for OpenAI
type OpenAIConfig struct {
	APIKey    string
	ModelName string
	BaseURL   string
}

// StorageConfig selects and configures the key-value persistence backend
type StorageConfig struct {
	Type        string
	SQLitePath  string
	MySQLDSN    string
	PostgresDSN string
	Redis       RedisConfig
}

// RedisConfig represents the configuration for the Redis store
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

// ClassifierConfig holds the classifier defaults used until persisted settings override them
type ClassifierConfig struct {
	Endpoint       string
	Template       string
	CustomTemplate string
	SystemPrompt   string
	Params         core.GenerationParams
	MaxFailures    uint32
	OpenTimeout    time.Duration
}

// ExtractConfig holds the default extraction toggles
type ExtractConfig struct {
	HTMLToMarkdown     bool
	StripURLParams     bool
	AltTextImages      bool
	CollapseWhitespace bool
	MaxBodySize        int
}

// MailConfig represents the mail store configuration
type MailConfig struct {
	Store         string
	Account       string
	ArchiveFolder string
	PageSize      int
}

// IMAPConfig represents the IMAP server connection
type IMAPConfig struct {
	Address  string
	Username string
	Password string
	TLS      bool
}

// SMTPConfig represents the outbound relay used by forward and reply actions
type SMTPConfig struct {
	Address string
	Port    int
	From    string
}

// IngestConfig represents the inbound new-mail sources
type IngestConfig struct {
	SMTPEnabled    bool
	SMTPListenAddr string
	SMTPFolder     string
	AMQPEnabled    bool
	AMQPURL        string
	AMQPExchange   string
	AMQPRoutingKey string
}

// ServerConfig represents the HTTP command API listener
type ServerConfig struct {
	ListenAddress string
	Metrics       bool
}

// GetServer returns the HTTP command API configuration
func (c *Config) GetServer() ServerConfig {
	return ServerConfig{
		ListenAddress: c.GetString("server.listen_address"),
		Metrics:       c.GetBool("server.metrics"),
	}
}

// GetLLM returns the LLM configuration
func (c *Config) GetLLM() LLMConfig {
	return LLMConfig{
		Provider: c.GetString("llm.provider"),
	}
}

// GetBedrock returns the Bedrock configuration
func (c *Config) GetBedrock() BedrockConfig {
	return BedrockConfig{
		Region:  c.GetString("bedrock.region"),
		ModelID: c.GetString("bedrock.model_id"),
	}
}

// GetGemini returns the Gemini configuration
func (c *Config) GetGemini() GeminiConfig {
	return GeminiConfig{
		APIKey:    c.GetString("gemini.api_key"),
		ModelName: c.GetString("gemini.model_name"),
	}
}

// GetOpenAI returns the OpenAI configuration
func (c *Config) GetOpenAI() OpenAIConfig {
	return OpenAIConfig{
		APIKey:    c.GetString("openai.api_key"),
		ModelName: c.GetString("openai.model_name"),
		BaseURL:   c.GetString("openai.base_url"),
	}
}

// GetStorage returns the persistence configuration
func (c *Config) GetStorage() StorageConfig {
	return StorageConfig{
		Type:        c.GetString("storage.type"),
		SQLitePath:  c.GetString("storage.sqlite_path"),
		MySQLDSN:    c.GetString("storage.mysql_dsn"),
		PostgresDSN: c.GetString("storage.postgres_dsn"),
		Redis: RedisConfig{
			Address:  c.GetString("storage.redis.address"),
			Password: c.GetString("storage.redis.password"),
			DB:       c.GetInt("storage.redis.db"),
			Prefix:   c.GetString("storage.redis.prefix"),
		},
	}
}

// GetClassifier returns the classifier defaults. An unparsable breaker
// timeout yields zero, which the classifier replaces with its own default.
func (c *Config) GetClassifier() ClassifierConfig {
	timeout, _ := c.GetDuration("classifier.breaker.open_timeout")
	return ClassifierConfig{
		Endpoint:       c.GetString("classifier.endpoint"),
		Template:       c.GetString("classifier.template"),
		CustomTemplate: c.GetString("classifier.custom_template"),
		SystemPrompt:   c.GetString("classifier.system_prompt"),
		MaxFailures:    uint32(c.GetInt("classifier.breaker.max_failures")),
		OpenTimeout:    timeout,
		Params: core.GenerationParams{
			MaxTokens:         c.GetInt("classifier.params.max_tokens"),
			Temperature:       c.GetFloat64("classifier.params.temperature"),
			TopP:              c.GetFloat64("classifier.params.top_p"),
			Seed:              c.GetInt("classifier.params.seed"),
			RepetitionPenalty: c.GetFloat64("classifier.params.repetition_penalty"),
			TopK:              c.GetInt("classifier.params.top_k"),
			MinP:              c.GetFloat64("classifier.params.min_p"),
			PresencePenalty:   c.GetFloat64("classifier.params.presence_penalty"),
			FrequencyPenalty:  c.GetFloat64("classifier.params.frequency_penalty"),
			TypicalP:          c.GetFloat64("classifier.params.typical_p"),
			TFS:               c.GetFloat64("classifier.params.tfs"),
		},
	}
}

// GetExtract returns the default extraction toggles
func (c *Config) GetExtract() ExtractConfig {
	return ExtractConfig{
		HTMLToMarkdown:     c.GetBool("extract.html_to_markdown"),
		StripURLParams:     c.GetBool("extract.strip_url_params"),
		AltTextImages:      c.GetBool("extract.alt_text_images"),
		CollapseWhitespace: c.GetBool("extract.collapse_whitespace"),
		MaxBodySize:        c.GetInt("extract.max_body_size"),
	}
}

// GetQueueErrorHold returns how long a failed job keeps the queue in the error state
func (c *Config) GetQueueErrorHold() time.Duration {
	d, err := c.GetDuration("queue.error_hold")
	if err != nil {
		return 3 * time.Second
	}
	return d
}

// GetMail returns the mail store configuration
func (c *Config) GetMail() MailConfig {
	return MailConfig{
		Store:         c.GetString("mail.store"),
		Account:       c.GetString("mail.account"),
		ArchiveFolder: c.GetString("mail.archive_folder"),
		PageSize:      c.GetInt("mail.page_size"),
	}
}

// GetIMAP returns the IMAP connection configuration
func (c *Config) GetIMAP() IMAPConfig {
	return IMAPConfig{
		Address:  c.GetString("imap.address"),
		Username: c.GetString("imap.username"),
		Password: c.GetString("imap.password"),
		TLS:      c.GetBool("imap.tls"),
	}
}

// GetSMTP returns the outbound relay configuration
func (c *Config) GetSMTP() SMTPConfig {
	return SMTPConfig{
		Address: c.GetString("smtp.address"),
		Port:    c.GetInt("smtp.port"),
		From:    c.GetString("smtp.from"),
	}
}

// GetIngest returns the inbound source configuration
func (c *Config) GetIngest() IngestConfig {
	return IngestConfig{
		SMTPEnabled:    c.GetBool("ingest.smtp.enabled"),
		SMTPListenAddr: c.GetString("ingest.smtp.listen_address"),
		SMTPFolder:     c.GetString("ingest.smtp.folder"),
		AMQPEnabled:    c.GetBool("ingest.amqp.enabled"),
		AMQPURL:        c.GetString("ingest.amqp.url"),
		AMQPExchange:   c.GetString("ingest.amqp.exchange"),
		AMQPRoutingKey: c.GetString("ingest.amqp.routing_key"),
	}
}
