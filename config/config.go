package config

import (
	"fmt"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Cache-first or network-only
	Policy string `yaml:"policy"`
	// Name of the cache store for this deployment, e.g. `wind-direction-daily-v1`
	Version string `yaml:"version"`
	// Origin URL to proxy to
	Origin string `yaml:"origin"`
	// Hostname to use for HTTP requests and TLS negotiation, if the origin is an IP address
	Host string `yaml:"host"`
	// Paths and absolute URLs that must be available offline
	CoreAssets []string `yaml:"coreAssets"`
	// Cache DB file name ('memory' for in-memory db)
	DB string `yaml:"db"`
	// Address for proxied traffic
	Listen string `yaml:"listen"`
	// Address for the admin router (health, metrics, caches)
	AdminListen string `yaml:"adminListen"`
}

func Default() Config {
	return Config{
		Policy: "cache-first",
		DB:     "cache.db",
		Listen: ":8080",
	}
}

// Load reads the YAML config file on top of the defaults.
func Load(filename string) (Config, error) {
	config := Default()
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	err = yaml.Unmarshal(configBytes, &config)
	return config, err
}

// Validate checks that the config can be used to start an interceptor.
func (c Config) Validate() error {
	if c.Origin == "" {
		return fmt.Errorf("Please specify origin")
	}
	u, err := url.Parse(c.Origin)
	if err != nil {
		return fmt.Errorf("Could not parse origin: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("Origin must be an absolute URL: %s", c.Origin)
	}
	if u.Path != "" && u.Path != "/" {
		return fmt.Errorf("Origins with paths are not supported: %s", c.Origin)
	}
	if c.Version == "" {
		return fmt.Errorf("Please specify version")
	}
	if c.Listen == "" {
		return fmt.Errorf("Please specify listen address")
	}
	return nil
}

// OriginURL returns the parsed origin.
func (c Config) OriginURL() url.URL {
	u, _ := url.Parse(c.Origin)
	if u == nil {
		return url.URL{}
	}
	return *u
}
