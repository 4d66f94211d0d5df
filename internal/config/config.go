// Package config loads the node configuration and the identity of the local actor.
package config

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/adhocore/gronx"
	"github.com/davecheney/solo/internal/crypto"
	"gopkg.in/yaml.v3"
)

// Config is the on disk configuration, usually config.yaml.
type Config struct {
	BaseURL                   string   `yaml:"base_url"`
	Username                  string   `yaml:"username"`
	Name                      string   `yaml:"name"`
	Summary                   string   `yaml:"summary"`
	PrivateKeyFile            string   `yaml:"private_key_file"`
	ManuallyApprovesFollowers bool     `yaml:"manually_approves_followers"`
	BlockedServers            []string `yaml:"blocked_servers"`
	AlsoKnownAs               []string `yaml:"also_known_as"`
	AdminPasswordHash         string   `yaml:"admin_password_hash"`
	HousekeepingCron          string   `yaml:"housekeeping_cron"`
	LogLevel                  string   `yaml:"log_level"`
	DSN                       string   `yaml:"dsn"`

	Delivery struct {
		MaxAttempts int `yaml:"max_attempts"`
	} `yaml:"delivery"`

	Fetch struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"fetch"`
}

// Default returns a configuration with every optional field set.
func Default() *Config {
	c := &Config{
		PrivateKeyFile:   "key.pem",
		HousekeepingCron: "17 4 * * *",
		LogLevel:         "info",
	}
	c.Delivery.MaxAttempts = 12
	c.Fetch.RPS = 2
	c.Fetch.Burst = 4
	return c
}

// Load reads the configuration at path, then applies SOLO_* environment
// overrides. A missing file is not an error if the environment supplies
// the required fields.
func Load(path string) (*Config, error) {
	c := Default()
	buf, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(buf, c); err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		// environment only
	default:
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := c.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return c, c.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	str("SOLO_BASE_URL", &c.BaseURL)
	str("SOLO_USERNAME", &c.Username)
	str("SOLO_NAME", &c.Name)
	str("SOLO_SUMMARY", &c.Summary)
	str("SOLO_PRIVATE_KEY_FILE", &c.PrivateKeyFile)
	str("SOLO_ADMIN_PASSWORD_HASH", &c.AdminPasswordHash)
	str("SOLO_HOUSEKEEPING_CRON", &c.HousekeepingCron)
	str("SOLO_LOG_LEVEL", &c.LogLevel)
	str("SOLO_DSN", &c.DSN)
	if v, ok := lookup("SOLO_BLOCKED_SERVERS"); ok {
		c.BlockedServers = nil
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				c.BlockedServers = append(c.BlockedServers, s)
			}
		}
	}
	if v, ok := lookup("SOLO_MANUALLY_APPROVES_FOLLOWERS"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: SOLO_MANUALLY_APPROVES_FOLLOWERS: %w", err)
		}
		c.ManuallyApprovesFollowers = b
	}
	if v, ok := lookup("SOLO_DELIVERY_MAX_ATTEMPTS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: SOLO_DELIVERY_MAX_ATTEMPTS: %w", err)
		}
		c.Delivery.MaxAttempts = n
	}
	return nil
}

// Validate checks the fields Load cannot default.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("config: base_url is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return fmt.Errorf("config: base_url %q is not an absolute http(s) URL", c.BaseURL)
	}
	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")
	if c.Username == "" {
		return errors.New("config: username is required")
	}
	if c.HousekeepingCron != "" && !gronx.IsValid(c.HousekeepingCron) {
		return fmt.Errorf("config: invalid housekeeping_cron %q", c.HousekeepingCron)
	}
	if c.Delivery.MaxAttempts < 1 {
		return fmt.Errorf("config: delivery.max_attempts must be positive, got %d", c.Delivery.MaxAttempts)
	}
	return nil
}

// IsBlocked reports whether host is on the block list.
func (c *Config) IsBlocked(host string) bool {
	for _, b := range c.BlockedServers {
		if strings.EqualFold(b, host) {
			return true
		}
	}
	return false
}

// Identity loads the private key and returns the local actor's identity.
func (c *Config) Identity() (*Identity, error) {
	pem, err := os.ReadFile(c.PrivateKeyFile)
	if err != nil {
		return nil, fmt.Errorf("config: reading private key: %w", err)
	}
	_, key, err := crypto.ParseRSAPrivateKey(pem)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", c.PrivateKeyFile, err)
	}
	return NewIdentity(c.BaseURL, c.Username, key), nil
}

// Identity is the single local actor. The actor's id is the base URL.
type Identity struct {
	BaseURL    string
	Username   string
	Host       string
	PrivateKey *rsa.PrivateKey
}

// NewIdentity returns the identity of username served from baseURL.
func NewIdentity(baseURL, username string, key *rsa.PrivateKey) *Identity {
	baseURL = strings.TrimSuffix(baseURL, "/")
	host := baseURL
	if u, err := url.Parse(baseURL); err == nil {
		host = u.Host
	}
	return &Identity{
		BaseURL:    baseURL,
		Username:   username,
		Host:       host,
		PrivateKey: key,
	}
}

func (i *Identity) ID() string        { return i.BaseURL }
func (i *Identity) Inbox() string     { return i.BaseURL + "/inbox" }
func (i *Identity) Outbox() string    { return i.BaseURL + "/outbox" }
func (i *Identity) Followers() string { return i.BaseURL + "/followers" }
func (i *Identity) Following() string { return i.BaseURL + "/following" }
func (i *Identity) KeyID() string     { return i.BaseURL + "#main-key" }
func (i *Identity) Handle() string    { return "@" + i.Username + "@" + i.Host }

// ObjectURL returns the id of the local object with the given public id.
func (i *Identity) ObjectURL(publicID string) string {
	return i.BaseURL + "/o/" + publicID
}

// IsLocal reports whether apID is rooted at this node.
func (i *Identity) IsLocal(apID string) bool {
	return apID == i.BaseURL || strings.HasPrefix(apID, i.BaseURL+"/") || strings.HasPrefix(apID, i.BaseURL+"#")
}
