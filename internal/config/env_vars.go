package config

import (
	"os"
)

type EnvConfig interface {
	GetEnv() string
	GetAppName() string
	GetLogLevel() string
	GetDataFolder() string
}

type EnvVars struct {
	Env        string `yaml:"env" env:"ENV" env-default:"DEV"`
	AppName    string `yaml:"name" env:"APP_NAME" env-default:"Go Auth Client"`
	LogLevel   string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	DataFolder string `yaml:"data_folder" env:"FOLDER" env-default:"./data"`
}

var _ EnvConfig = EnvVars{}

func (e EnvVars) GetEnv() string {
	return e.Env
}

func (e EnvVars) GetAppName() string {
	return e.AppName
}

func (e EnvVars) GetLogLevel() string {
	return e.LogLevel
}

func (e EnvVars) GetDataFolder() string {
	return e.DataFolder
}

// GetEnv returns the environment variable envVar, or defaultValue when it is unset or empty.
func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}
