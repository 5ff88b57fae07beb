package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g.
// TAKOPI_SMITHERS_TELEGRAM_BOT_TOKEN.
const EnvPrefix = "TAKOPI_SMITHERS"

// TelegramCredentials is everything needed to post to a chat.
type TelegramCredentials struct {
	BotToken        string
	ChatID          int64
	MessageThreadID int64
}

// CompanionConfigPath returns ~/.takopi/takopi.toml.
func CompanionConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".takopi", "takopi.toml")
}

func envViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// loadCompanion reads the takopi bridge config. A missing or unreadable
// file yields nil.
func loadCompanion(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil
	}
	return v
}

// TelegramCredentials resolves credentials in order: environment
// overrides, this config's [telegram] section, then the takopi companion
// config at companionPath (transports.telegram). Returns ok=false when no
// complete bot token + chat id pair exists.
func (c *Config) TelegramCredentials(companionPath string) (TelegramCredentials, bool) {
	creds := TelegramCredentials{
		BotToken:        c.Telegram.BotToken,
		ChatID:          c.Telegram.ChatID,
		MessageThreadID: c.Telegram.MessageThreadID,
	}

	env := envViper()
	if tok := env.GetString("telegram.bot_token"); tok != "" {
		creds.BotToken = tok
	}
	if id := env.GetInt64("telegram.chat_id"); id != 0 {
		creds.ChatID = id
	}
	if tid := env.GetInt64("telegram.message_thread_id"); tid != 0 {
		creds.MessageThreadID = tid
	}
	if creds.BotToken != "" && creds.ChatID != 0 {
		return creds, true
	}

	if companionPath == "" {
		return TelegramCredentials{}, false
	}
	comp := loadCompanion(companionPath)
	if comp == nil {
		return TelegramCredentials{}, false
	}
	tok := comp.GetString("transports.telegram.bot_token")
	chat := comp.GetInt64("transports.telegram.chat_id")
	if tok == "" || chat == 0 {
		return TelegramCredentials{}, false
	}
	return TelegramCredentials{BotToken: tok, ChatID: chat}, true
}
