package config

import "time"

type APIConfig interface {
	GetBaseURL() string
	// GetIssuer returns the OpenID issuer used for endpoint discovery, or "" to skip discovery.
	GetIssuer() string
	GetRequestTimeout() time.Duration
	GetDefaultLocale() string
}

type API struct {
	BaseURL        string        `yaml:"base_url" env:"API_BASE_URL" env-default:"http://localhost:8080"`
	Issuer         string        `yaml:"issuer" env:"API_ISSUER"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"API_REQUEST_TIMEOUT" env-default:"30s"`
	DefaultLocale  string        `yaml:"default_locale" env:"API_DEFAULT_LOCALE" env-default:"en"`
}

var _ APIConfig = API{}

func (a API) GetBaseURL() string {
	return a.BaseURL
}

func (a API) GetIssuer() string {
	return a.Issuer
}

func (a API) GetRequestTimeout() time.Duration {
	return a.RequestTimeout
}

func (a API) GetDefaultLocale() string {
	return a.DefaultLocale
}
