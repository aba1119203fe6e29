package models

// SessionConfig describes one monitored live broadcast. It is supplied at
// session start and owned by the orchestrator for the session's lifetime.
type SessionConfig struct {
	LiveSessionID string    `json:"live_session_id" mapstructure:"id"`
	Platform      Platform  `json:"platform" mapstructure:"platform"`
	AgentEnabled  bool      `json:"agent_enabled" mapstructure:"agent_enabled"`
	Products      []Product `json:"products" mapstructure:"products"`

	YouTube *YouTubeSessionConfig `json:"youtube,omitempty" mapstructure:"youtube"`
	Twitch  *TwitchSessionConfig  `json:"twitch,omitempty" mapstructure:"twitch"`
	TikTok  *TikTokSessionConfig  `json:"tiktok,omitempty" mapstructure:"tiktok"`
}

// YouTubeSessionConfig holds credentials for one YouTube live chat. When
// LiveChatID is empty it is resolved from VideoID at session start.
type YouTubeSessionConfig struct {
	APIKey     string `json:"-" mapstructure:"api_key"`
	LiveChatID string `json:"live_chat_id" mapstructure:"live_chat_id"`
	VideoID    string `json:"video_id" mapstructure:"video_id"`
}

// TwitchSessionConfig holds credentials for one Twitch channel.
type TwitchSessionConfig struct {
	AccessToken string `json:"-" mapstructure:"access_token"`
	ClientID    string `json:"client_id" mapstructure:"client_id"`
	BotUsername string `json:"bot_username" mapstructure:"bot_username"`
	BotUserID   string `json:"bot_user_id" mapstructure:"bot_user_id"`
	ChannelName string `json:"channel_name" mapstructure:"channel_name"`
}

// TikTokSessionConfig holds credentials for one TikTok live room.
type TikTokSessionConfig struct {
	AccessToken string `json:"-" mapstructure:"access_token"`
	AppID       string `json:"app_id" mapstructure:"app_id"`
	AppSecret   string `json:"-" mapstructure:"app_secret"`
	LiveRoomID  string `json:"live_room_id" mapstructure:"live_room_id"`
}
