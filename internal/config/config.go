package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env                string        `mapstructure:"ENV"`
	Port               string        `mapstructure:"PORT"`
	DatabaseURL        string        `mapstructure:"DATABASE_URL"`
	AdminKey           string        `mapstructure:"ADMIN_KEY"`
	AIURL              string        `mapstructure:"AI_URL"`
	GeocoderURL        string        `mapstructure:"GEOCODER_URL"`
	GeocoderUserAgent  string        `mapstructure:"GEOCODER_USER_AGENT"`
	CountryDefault     string        `mapstructure:"COUNTRY_DEFAULT"`
	MaxServiceRadiusKm float64       `mapstructure:"MAX_SERVICE_RADIUS_KM"`
	WorkerCount        int           `mapstructure:"WORKER_COUNT"`
	CORSAllowed        string        `mapstructure:"CORS_ALLOWED_ORIGINS"`
	RequestTimeout     time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	LogLevel           string        `mapstructure:"LOG_LEVEL"`
	MaxUploadSizeMB    int64         `mapstructure:"MAX_UPLOAD_MB"`
}

func Load() (Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	_ = v.ReadInConfig()

	v.SetDefault("ENV", "dev")
	v.SetDefault("PORT", "8080")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("MAX_UPLOAD_MB", 20)
	v.SetDefault("COUNTRY_DEFAULT", "Казахстан")
	v.SetDefault("GEOCODER_USER_AGENT", "fire-routing-backend")
	v.SetDefault("MAX_SERVICE_RADIUS_KM", 100)
	v.SetDefault("WORKER_COUNT", 4)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
