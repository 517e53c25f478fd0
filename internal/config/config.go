package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL   string
	ServerAddr    string
	SweepSchedule string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
}

// Load reads configuration from the environment, after merging a .env file
// if one is present.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		ServerAddr:    getenv("SERVER_ADDR", ":8080"),
		SweepSchedule: getenv("SWEEP_SCHEDULE", "0 0 * * *"),
		SMTPHost:      os.Getenv("SMTP_HOST"),
		SMTPPort:      getenvInt("SMTP_PORT", 587),
		SMTPUsername:  os.Getenv("SMTP_USERNAME"),
		SMTPPassword:  os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:      getenv("SMTP_FROM", "library@localhost"),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
