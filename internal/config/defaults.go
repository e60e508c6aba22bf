package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		WhatsApp: WhatsAppConfig{
			Enabled: false,
		},
		Telegram: TelegramConfig{
			Enabled: false,
		},
		Storage: StorageConfig{
			DBPath: "~/.courier/courier.db",
		},
		RateLimit: RateLimitConfig{
			MaxPerHour: 10,
			MaxPerDay:  30,
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
	}
}
