package config

import "path/filepath"

// Credential storage backends.
const (
	StorageFile  = "file"
	StorageRedis = "redis"
)

type StorageConfig interface {
	GetStorageBackend() string
	GetCredentialFile(dataFolder string) string
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int
	GetDeviceID() string
	GetDeviceSecret() string
	GetSealSalt() string
}

type Storage struct {
	Backend        string `yaml:"backend" env:"STORAGE_BACKEND" env-default:"file"`
	CredentialFile string `yaml:"credential_file" env:"STORAGE_CREDENTIAL_FILE" env-default:"credentials.json"`
	RedisAddr      string `yaml:"redis_addr" env:"STORAGE_REDIS_ADDR" env-default:"localhost:6379"`
	RedisPassword  string `yaml:"redis_password" env:"STORAGE_REDIS_PASSWORD"`
	RedisDB        int    `yaml:"redis_db" env:"STORAGE_REDIS_DB" env-default:"0"`
	DeviceID       string `yaml:"device_id" env:"DEVICE_ID" env-default:"local-device"`
	DeviceSecret   string `yaml:"device_secret" env:"DEVICE_SECRET"`
	SealSalt       string `yaml:"seal_salt" env:"STORAGE_SEAL_SALT" env-default:"go-auth-client"`
}

var _ StorageConfig = Storage{}

func (s Storage) GetStorageBackend() string {
	return s.Backend
}

// GetCredentialFile resolves a relative credential file against dataFolder.
func (s Storage) GetCredentialFile(dataFolder string) string {
	if filepath.IsAbs(s.CredentialFile) {
		return s.CredentialFile
	}
	return filepath.Join(dataFolder, s.CredentialFile)
}

func (s Storage) GetRedisAddr() string {
	return s.RedisAddr
}

func (s Storage) GetRedisPassword() string {
	return s.RedisPassword
}

func (s Storage) GetRedisDB() int {
	return s.RedisDB
}

func (s Storage) GetDeviceID() string {
	return s.DeviceID
}

func (s Storage) GetDeviceSecret() string {
	return s.DeviceSecret
}

func (s Storage) GetSealSalt() string {
	return s.SealSalt
}
