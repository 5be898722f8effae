package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Telegram: TelegramConfig{
			Enabled:     false,
			PollTimeout: 30,
			Webhook: WebhookConfig{
				Addr: ":8443",
				Path: "/telegram/webhook",
			},
		},
		Firewall: FirewallConfig{
			RuleCacheTTLMs:        45000,
			Workers:               8,
			ExecutorRatePerSecond: 20,
			RecordQueueSize:       256,
		},
		Storage: StorageConfig{
			DBPath: "~/.groupguard/groupguard.db",
		},
		Redis: RedisConfig{
			Enabled: false,
			URL:     "redis://localhost:6379/0",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
	}
}
