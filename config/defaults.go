package config

import (
	"github.com/spf13/viper"
)

func initDefaults() {
	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("storage.backend", "redis")
	viper.SetDefault("cache.metadata", 3600) // seconds
}
