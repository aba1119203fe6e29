package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Agent    AgentConfig    `mapstructure:"agent"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Database DatabaseConfig `mapstructure:"database"`
	YouTube  YouTubeConfig  `mapstructure:"youtube"`
	Twitch   TwitchConfig   `mapstructure:"twitch"`
	TikTok   TikTokConfig   `mapstructure:"tiktok"`
	Sessions []SessionEntry `mapstructure:"sessions"`
}

type AgentConfig struct {
	MaxResponsesPerUser      int           `mapstructure:"max_responses_per_user"`
	MaxResponsesPerSession   int           `mapstructure:"max_responses_per_session"`
	MinDelayBetweenResponses time.Duration `mapstructure:"min_delay_between_responses"`
	TwitchWhispersPerDay     int           `mapstructure:"twitch_whispers_per_day"`
	YouTubeQuotaPerDay       int           `mapstructure:"youtube_quota_per_day"`
}

type OpenAIConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type DatabaseConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	DBName      string `mapstructure:"dbname"`
	SSLMode     string `mapstructure:"sslmode"`
	UseInMemory bool   `mapstructure:"use_in_memory"`
}

type YouTubeConfig struct {
	APIKey string `mapstructure:"api_key"`
}

type TwitchConfig struct {
	AccessToken string `mapstructure:"access_token"`
	ClientID    string `mapstructure:"client_id"`
	BotUsername string `mapstructure:"bot_username"`
	BotUserID   string `mapstructure:"bot_user_id"`
}

type TikTokConfig struct {
	AccessToken string `mapstructure:"access_token"`
	AppID       string `mapstructure:"app_id"`
	AppSecret   string `mapstructure:"app_secret"`
}

// SessionEntry describes one broadcast to start monitoring at boot.
type SessionEntry struct {
	LiveSessionID string         `mapstructure:"live_session_id"`
	Platform      string         `mapstructure:"platform"`
	AgentEnabled  bool           `mapstructure:"agent_enabled"`
	LiveChatID    string         `mapstructure:"live_chat_id"`
	VideoID       string         `mapstructure:"video_id"`
	ChannelName   string         `mapstructure:"channel_name"`
	LiveRoomID    string         `mapstructure:"live_room_id"`
	Products      []ProductEntry `mapstructure:"products"`
}

type ProductEntry struct {
	ID           string `mapstructure:"id"`
	Name         string `mapstructure:"name"`
	Description  string `mapstructure:"description"`
	PriceMicros  int64  `mapstructure:"price_micros"`
	CurrencyCode string `mapstructure:"currency_code"`
	PurchaseLink string `mapstructure:"purchase_link"`
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		fmt.Sscanf(u.Port(), "%d", &port)
	}

	// Remove leading slash from path to get database name
	dbName := strings.TrimPrefix(u.Path, "/")

	return DatabaseConfig{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   dbName,
		SSLMode:  "disable",
	}, nil
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// Set default values
	v.SetDefault("agent.max_responses_per_user", 3)
	v.SetDefault("agent.max_responses_per_session", 100)
	v.SetDefault("agent.min_delay_between_responses", "30s")
	v.SetDefault("agent.twitch_whispers_per_day", 40)
	v.SetDefault("agent.youtube_quota_per_day", 10000)
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.use_in_memory", false)
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.max_tokens", 300)
	v.SetDefault("openai.temperature", 0.3)
	v.SetDefault("openai.timeout", "10s")

	// Enable environment variable support
	v.AutomaticEnv()

	// Read the config file
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Check for DATABASE_URL environment variable
	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %v", err)
		}
		config.Database = dbConfig
	}

	// Get other environment variables
	if apiKey := v.GetString("OPENAI_API_KEY"); apiKey != "" {
		config.OpenAI.APIKey = apiKey
	}

	if apiKey := v.GetString("YOUTUBE_API_KEY"); apiKey != "" {
		config.YouTube.APIKey = apiKey
	}

	if token := v.GetString("TWITCH_ACCESS_TOKEN"); token != "" {
		config.Twitch.AccessToken = token
	}

	if clientID := v.GetString("TWITCH_CLIENT_ID"); clientID != "" {
		config.Twitch.ClientID = clientID
	}

	if token := v.GetString("TIKTOK_ACCESS_TOKEN"); token != "" {
		config.TikTok.AccessToken = token
	}

	if secret := v.GetString("TIKTOK_APP_SECRET"); secret != "" {
		config.TikTok.AppSecret = secret
	}

	return &config, nil
}
