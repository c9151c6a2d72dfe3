// Package helperconfig loads the helper's INI configuration file
// (spec §6: "<repo>/.git/ipfs/config", single section [IPFS]).
package helperconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ipfs-shipyard/git-remote-ipfs/internal/helpererr"
)

// Config holds the resolved [IPFS] settings, defaults applied for any
// key absent from the file.
type Config struct {
	URL           string
	Port          int
	VersionPrefix string
	Timeout       time.Duration
	UnpinOld      bool
	Republish     bool
	IPNSTTL       time.Duration
	CIDVersion    int
	IPFSChunker   string
	UserName      string
	UserPassword  string
}

// DaemonBaseURL returns the base URL the CAS client should dial,
// e.g. "http://127.0.0.1:5001/api/v0".
func (c Config) DaemonBaseURL() string {
	base := strings.TrimRight(c.URL, "/")
	return fmt.Sprintf("%s:%d/%s", base, c.Port, strings.Trim(c.VersionPrefix, "/"))
}

// HasBasicAuth reports whether both UserName and UserPassword are set.
func (c Config) HasBasicAuth() bool {
	return strings.TrimSpace(c.UserName) != "" && c.UserPassword != ""
}

// ConfigPath returns the expected config file path for a repository's
// git directory (e.g. "<repo>/.git").
func ConfigPath(gitDir string) string {
	return filepath.Join(gitDir, "ipfs", "config")
}

// Load reads and parses the INI config file at gitDir/ipfs/config.
//
// A missing file is a fatal helpererr.ErrConfig with a remediation
// message pointing at the (out-of-scope, §1) install/bootstrap
// subcommand that is expected to have created it.
func Load(gitDir string) (Config, error) {
	path := ConfigPath(gitDir)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return Config{}, fmt.Errorf("%w: no configuration file at %s — run the ipfs-remote install/bootstrap command first", helpererr.ErrConfig, path)
		}
		return Config{}, fmt.Errorf("%w: stat %s: %v", helpererr.ErrConfig, path, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("ini")

	v.SetDefault("IPFS.URL", "http://127.0.0.1")
	v.SetDefault("IPFS.Port", 5001)
	v.SetDefault("IPFS.VersionPrefix", "api/v0")
	v.SetDefault("IPFS.Timeout", 30.0)
	v.SetDefault("IPFS.UnpinOld", false)
	v.SetDefault("IPFS.Republish", false)
	v.SetDefault("IPFS.IPNSTTLString", "2h")
	v.SetDefault("IPFS.CIDVersion", 0)
	v.SetDefault("IPFS.IPFSChunker", "size-262144")
	v.SetDefault("IPFS.UserName", "")
	v.SetDefault("IPFS.UserPassword", "")

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("%w: parse %s: %v", helpererr.ErrConfig, path, err)
	}

	ttl, err := time.ParseDuration(v.GetString("IPFS.IPNSTTLString"))
	if err != nil {
		return Config{}, fmt.Errorf("%w: invalid IPNSTTLString %q: %v", helpererr.ErrConfig, v.GetString("IPFS.IPNSTTLString"), err)
	}

	timeoutSeconds := v.GetFloat64("IPFS.Timeout")
	if timeoutSeconds <= 0 {
		return Config{}, fmt.Errorf("%w: Timeout must be positive, got %v", helpererr.ErrConfig, timeoutSeconds)
	}

	cfg := Config{
		URL:           v.GetString("IPFS.URL"),
		Port:          v.GetInt("IPFS.Port"),
		VersionPrefix: v.GetString("IPFS.VersionPrefix"),
		Timeout:       time.Duration(timeoutSeconds * float64(time.Second)),
		UnpinOld:      v.GetBool("IPFS.UnpinOld"),
		Republish:     v.GetBool("IPFS.Republish"),
		IPNSTTL:       ttl,
		CIDVersion:    v.GetInt("IPFS.CIDVersion"),
		IPFSChunker:   v.GetString("IPFS.IPFSChunker"),
		UserName:      v.GetString("IPFS.UserName"),
		UserPassword:  v.GetString("IPFS.UserPassword"),
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return Config{}, fmt.Errorf("%w: URL must not be empty", helpererr.ErrConfig)
	}
	return cfg, nil
}
