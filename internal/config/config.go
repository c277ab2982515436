package config

import "github.com/spf13/viper"

type Config struct {
	ServerAddress string `mapstructure:"SERVER_ADDRESS"`
	MySQLDSN      string `mapstructure:"MYSQL_DSN"`
	MigrationURL  string `mapstructure:"MIGRATION_URL"`
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	KafkaBrokers  string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic    string `mapstructure:"KAFKA_TOPIC"`
}

// LoadConfig reads app.env from path, letting real environment variables
// override file values.
func LoadConfig(path string) (cfg Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("app")
	viper.SetConfigType("env")
	viper.AutomaticEnv()

	err = viper.ReadInConfig()
	if err != nil {
		return
	}
	err = viper.Unmarshal(&cfg)
	return
}
