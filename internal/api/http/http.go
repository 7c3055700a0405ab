package http

const DefaultPort = 8080

type Config struct {
	Port           uint     `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}
