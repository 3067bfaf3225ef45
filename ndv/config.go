package ndv

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds session configuration.
type Config struct {
	// Timeout is the read timeout for server replies. Zero waits forever.
	Timeout time.Duration

	// Client identification
	ClientVersion  int
	WebIOVersion   int
	ClientCodePage string

	// TimestampChecks asks the server to check time stamps on save.
	TimestampChecks bool

	// LabelFormat builds the labels inserted for line references when line
	// numbers are removed on download. "{count}" is replaced by a counter.
	// Empty keeps numeric references.
	LabelFormat string

	// LabelsOnOwnLine puts each inserted label on a line of its own.
	LabelsOnOwnLine bool

	// LabelPrefix overrides the internal label prefix derived from the
	// server's identifier rules.
	LabelPrefix string

	// ProgressInterval throttles transfer progress callbacks.
	ProgressInterval time.Duration
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		Timeout:          60 * time.Second,
		ClientVersion:    1,
		ClientCodePage:   "UTF-8",
		ProgressInterval: 100 * time.Millisecond,
	}
}

// ConnectConfig carries the logon parameters of one connection.
type ConnectConfig struct {
	Host     string
	Port     int
	UserID   string
	Password string

	// NewPassword changes the password during logon.
	NewPassword string

	// SessionParameters are Natural profile parameters such as "STACK=(LOGON X)".
	SessionParameters string

	// InternalSessionParameters are placed in front of SessionParameters.
	InternalSessionParameters string

	RichGUI        bool
	WebIOVersion   int
	NFNPrivateMode bool
	LogonCounter   int

	// MonitorSessionID attaches a monitoring client when set.
	MonitorSessionID   string
	MonitorEventFilter string
}

func (c *ConnectConfig) validate() error {
	switch {
	case c.Host == "":
		return invalidArgument("HOST value must not be empty")
	case c.Port <= 0:
		return invalidArgument("PORT value must not be empty")
	case c.UserID == "":
		return invalidArgument("USERID value must not be empty")
	case len(c.Password) > 8:
		return invalidArgument("password must not exceed 8 characters")
	case len(c.NewPassword) > 8:
		return invalidArgument("new password must not exceed 8 characters")
	}
	return nil
}

func (c *ConnectConfig) parameters() string {
	params := c.SessionParameters
	if c.InternalSessionParameters != "" {
		params = c.InternalSessionParameters + " " + params
	}
	return params
}

// Profile is a named set of connection settings.
type Profile struct {
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	User              string        `yaml:"user"`
	SessionParameters string        `yaml:"session_parameters,omitempty"`
	Timeout           time.Duration `yaml:"timeout,omitempty"`
	SSH               string        `yaml:"ssh,omitempty"`
	SSHKey            string        `yaml:"ssh_key,omitempty"`
	SOCKS5            string        `yaml:"socks5,omitempty"`
	Library           string        `yaml:"library,omitempty"`
}

// ConnectConfig returns the logon parameters of the profile.
func (p *Profile) ConnectConfig() ConnectConfig {
	return ConnectConfig{
		Host:              p.Host,
		Port:              p.Port,
		UserID:            p.User,
		SessionParameters: p.SessionParameters,
	}
}

type profileFile struct {
	Profiles map[string]*Profile `yaml:"profiles"`
}

// LoadProfiles reads connection profiles from a YAML file of the form
//
//	profiles:
//	  dev:
//	    host: mainframe.example.com
//	    port: 8021
//	    user: DEVUSER
func LoadProfiles(path string) (map[string]*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles: %w", err)
	}
	var f profileFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse profiles %s: %w", path, err)
	}
	for name, p := range f.Profiles {
		if p == nil {
			return nil, fmt.Errorf("profile %q is empty", name)
		}
	}
	return f.Profiles, nil
}
