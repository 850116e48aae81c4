package config

import "time"

type RefreshConfig interface {
	GetRefreshSkew() time.Duration
	GetRefreshTimeout() time.Duration
}

type Refresh struct {
	Skew    time.Duration `yaml:"skew" env:"REFRESH_SKEW" env-default:"300s"`
	Timeout time.Duration `yaml:"timeout" env:"REFRESH_TIMEOUT" env-default:"30s"`
}

var _ RefreshConfig = Refresh{}

func (r Refresh) GetRefreshSkew() time.Duration {
	return r.Skew
}

func (r Refresh) GetRefreshTimeout() time.Duration {
	return r.Timeout
}
