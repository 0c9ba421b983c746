// =============================================================================
// 📦 Personacraft 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Agent:     DefaultAgentConfig(),
		Redis:     DefaultRedisConfig(),
		Taste:     DefaultTasteConfig(),
		LLM:       DefaultLLMConfig(),
		Core:      DefaultCoreConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		GRPCPort:        9090,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultAgentConfig 返回默认 Agent 配置
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		Name:          "default-agent",
		Description:   "Default Personacraft agent",
		Model:         "gpt-4",
		SystemPrompt:  "You are a helpful AI assistant.",
		MaxIterations: 10,
		Temperature:   0.7,
		MaxTokens:     4096,
		Timeout:       5 * time.Minute,
		StreamEnabled: true,
		Memory: MemoryConfig{
			Enabled:     true,
			Type:        "buffer",
			MaxMessages: 100,
			TokenLimit:  8000,
		},
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultTasteConfig 返回默认 Taste 提供方配置
func DefaultTasteConfig() TasteConfig {
	return TasteConfig{
		BaseURL:            "",
		APIKey:             "",
		Timeout:            10 * time.Second,
		DefaultEntityLimit: 20,
	}
}

// DefaultCoreConfig 返回默认的请求协调核心配置。这些值由本函数单独给出，
// 并非在每一项上都与对应组件包（limiter/retry/cache/breaker/batch）自身的
// 默认值相同（例如缓存 TTL、熔断失败窗口、重试上限）。
func DefaultCoreConfig() CoreConfig {
	return CoreConfig{
		Limiter: LimiterConfig{
			RequestsPerMinute: 60,
			RequestsPerHour:   2000,
			Burst:             10,
		},
		Backoff: BackoffConfig{
			BaseDelay:     200 * time.Millisecond,
			MaxDelay:      30 * time.Second,
			Multiplier:    2.0,
			MaxAttempts:   5,
			JitterEnabled: true,
		},
		Cache: CacheConfig{
			ByteBudget: 64 * 1024 * 1024,
			DefaultTTL: 15 * time.Minute,
		},
		Breaker: BreakerConfig{
			FailThreshold: 5,
			WindowFail:    1 * time.Minute,
			Cooldown:      10 * time.Second,
			MaxCooldown:   5 * time.Minute,
		},
		Batch: BatchConfig{
			MaxBatchSize:  10,
			BatchDelay:    50 * time.Millisecond,
			EligibleTypes: []string{"taste.category"},
		},
		CacheEnabled:      true,
		BatchingEnabled:   true,
		FallbackAllowed:   true,
		MaxWorkers:        16,
		InterPersonaDelay: 250 * time.Millisecond,
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		DefaultProvider: "openai",
		APIKey:          "",
		BaseURL:         "",
		Timeout:         2 * time.Minute,
		MaxRetries:      3,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "personacraft",
		SampleRate:   0.1,
	}
}
