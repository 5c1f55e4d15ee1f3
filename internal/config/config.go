package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env            string        `mapstructure:"ENV"`
	Port           string        `mapstructure:"PORT"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	AdminKey       string        `mapstructure:"ADMIN_KEY"`
	CORSAllowed    string        `mapstructure:"CORS_ALLOWED_ORIGINS"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`
	TemplatesDir   string        `mapstructure:"TEMPLATES_DIR"`

	SchedulerInterval time.Duration `mapstructure:"SCHEDULER_INTERVAL"`
	PollInterval      time.Duration `mapstructure:"POLL_INTERVAL"`
	RandomSeed        int64         `mapstructure:"RANDOM_SEED"`

	UseDryRun                   bool   `mapstructure:"USE_DRY_RUN"`
	ZammadURL                   string `mapstructure:"ZAMMAD_URL"`
	ZammadToken                 string `mapstructure:"ZAMMAD_TOKEN"`
	ZammadGroupTier1            string `mapstructure:"ZAMMAD_GROUP_TIER1"`
	ZammadGroupTier2            string `mapstructure:"ZAMMAD_GROUP_TIER2"`
	ZammadGroupSysadmin         string `mapstructure:"ZAMMAD_GROUP_SYSADMIN"`
	ZammadCustomerFallbackEmail string `mapstructure:"ZAMMAD_CUSTOMER_FALLBACK_EMAIL"`

	// ResponseEngine is one of rule_based, mock, ollama or openai.
	ResponseEngine           string `mapstructure:"RESPONSE_ENGINE"`
	OllamaURL                string `mapstructure:"OLLAMA_URL"`
	OllamaModel              string `mapstructure:"OLLAMA_MODEL"`
	LLMFallbackToRules       bool   `mapstructure:"LLM_FALLBACK_TO_RULES"`
	LLMRewriteOpeningTickets bool   `mapstructure:"LLM_REWRITE_OPENING_TICKETS"`
	AssistantBaseURL         string `mapstructure:"ASSISTANT_BASE_URL"`
	AssistantModel           string `mapstructure:"ASSISTANT_MODEL"`
	AssistantAPIKey          string `mapstructure:"ASSISTANT_API_KEY"`
}

var responseEngines = []string{"rule_based", "mock", "ollama", "openai"}

func Load() (Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	_ = v.ReadInConfig()

	v.SetDefault("ENV", "dev")
	v.SetDefault("PORT", "8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("ADMIN_KEY", "")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("TEMPLATES_DIR", "templates")
	v.SetDefault("SCHEDULER_INTERVAL", "30s")
	v.SetDefault("POLL_INTERVAL", "15s")
	v.SetDefault("RANDOM_SEED", 0)
	v.SetDefault("USE_DRY_RUN", true)
	v.SetDefault("ZAMMAD_URL", "")
	v.SetDefault("ZAMMAD_TOKEN", "")
	v.SetDefault("ZAMMAD_GROUP_TIER1", "Service Desk")
	v.SetDefault("ZAMMAD_GROUP_TIER2", "Tier 2")
	v.SetDefault("ZAMMAD_GROUP_SYSADMIN", "Systems")
	v.SetDefault("ZAMMAD_CUSTOMER_FALLBACK_EMAIL", "")
	v.SetDefault("RESPONSE_ENGINE", "rule_based")
	v.SetDefault("OLLAMA_URL", "http://localhost:11434")
	v.SetDefault("OLLAMA_MODEL", "llama3.1")
	v.SetDefault("LLM_FALLBACK_TO_RULES", true)
	v.SetDefault("LLM_REWRITE_OPENING_TICKETS", false)
	v.SetDefault("ASSISTANT_BASE_URL", "")
	v.SetDefault("ASSISTANT_MODEL", "")
	v.SetDefault("ASSISTANT_API_KEY", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	engine := strings.ToLower(strings.TrimSpace(c.ResponseEngine))
	known := false
	for _, e := range responseEngines {
		if e == engine {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("RESPONSE_ENGINE must be one of %s, got %q", strings.Join(responseEngines, ", "), c.ResponseEngine)
	}
	if !c.UseDryRun && (c.ZammadURL == "" || c.ZammadToken == "") {
		return fmt.Errorf("ZAMMAD_URL and ZAMMAD_TOKEN are required when USE_DRY_RUN is false")
	}
	if c.SchedulerInterval <= 0 || c.PollInterval <= 0 {
		return fmt.Errorf("SCHEDULER_INTERVAL and POLL_INTERVAL must be positive")
	}
	return nil
}
