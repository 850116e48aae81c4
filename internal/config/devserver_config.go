package config

import (
	"fmt"
	"strings"
	"time"
)

type DevServerConfig interface {
	GetPort() string
	GetTokenSecret() string
	GetAccessTokenExpiry() time.Duration
	GetRefreshTokenExpiry() time.Duration
	// GetUsers returns the seeded accounts as username to password.
	GetUsers() map[string]string
}

type DevServer struct {
	Port               string        `yaml:"port" env:"PORT" env-default:"8080"`
	TokenSecret        string        `yaml:"token_secret" env:"TOKEN_SECRET" env-default:"dev-secret-change-me"`
	AccessTokenExpiry  time.Duration `yaml:"access_token_expiry" env:"ACCESS_TOKEN_EXPIRY" env-default:"15m"`
	RefreshTokenExpiry time.Duration `yaml:"refresh_token_expiry" env:"REFRESH_TOKEN_EXPIRY" env-default:"720h"`
	Users              []string      `yaml:"users" env:"DEV_USERS" env-separator:"," env-default:"alice:password"`
}

var _ DevServerConfig = DevServer{}

func (d DevServer) GetPort() string {
	port := d.Port
	if port != "" && port[0] != ':' {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func (d DevServer) GetTokenSecret() string {
	return d.TokenSecret
}

func (d DevServer) GetAccessTokenExpiry() time.Duration {
	return d.AccessTokenExpiry
}

func (d DevServer) GetRefreshTokenExpiry() time.Duration {
	return d.RefreshTokenExpiry
}

func (d DevServer) GetUsers() map[string]string {
	users := make(map[string]string, len(d.Users))
	for _, entry := range d.Users {
		name, password, ok := strings.Cut(strings.TrimSpace(entry), ":")
		if !ok || name == "" {
			continue
		}
		users[name] = password
	}
	return users
}
