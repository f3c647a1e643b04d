package server

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/ndvserve/ndv/ndv"
)

const (
	// DefaultWebAddress is the default URL of the ndv web server
	DefaultWebAddress = "localhost:8000"

	// DefaultShutdownDelay is the number of seconds in-flight requests get to finish.
	DefaultShutdownDelay = 5

	// DefaultMaxExtractMB is the largest selection in MB returned by a single request.
	DefaultMaxExtractMB = 1024

	// MetaCacheID identifies the [cache.meta] setting.
	MetaCacheID = "meta"
)

var (
	// the parsed TOML configuration data
	tc tomlConfig

	// the TOML config file location
	tcLocation string

	// the TOML config raw contents
	tcContent string
)

func init() {
	tc = defaultConfig()
}

type tomlConfig struct {
	Server  serverConfig
	Auth    authConfig
	Logging ndv.LogConfig
	Cache   map[string]sizeConfig
}

type serverConfig struct {
	HTTPAddress   string
	Root          string
	Note          string
	CorsDomains   []string `toml:"cors_domains"`
	CompressData  bool     `toml:"compress_data"`
	Profile       bool
	ShutdownDelay int   `toml:"shutdown_delay"`
	MaxExtractMB  int64 `toml:"max_extract_mb"`
}

type sizeConfig struct {
	Size int // size in MB
}

func defaultConfig() tomlConfig {
	return tomlConfig{
		Server: serverConfig{
			HTTPAddress:   DefaultWebAddress,
			Root:          currentDir(),
			CorsDomains:   []string{"*"},
			ShutdownDelay: DefaultShutdownDelay,
			MaxExtractMB:  DefaultMaxExtractMB,
		},
		Cache: map[string]sizeConfig{
			MetaCacheID: {Size: 64},
		},
	}
}

// Some settings in the TOML can be given as relative paths.
// This function converts them in-place to absolute paths,
// assuming the given paths were relative to the TOML file's own directory.
func (c *tomlConfig) convertPathsToAbsolute(configPath string) error {
	var err error

	configDir := filepath.Dir(configPath)

	// [server].root
	if c.Server.Root != "" {
		c.Server.Root, err = ndv.ConvertToAbsolute(c.Server.Root, configDir)
		if err != nil {
			return fmt.Errorf("Error converting root setting to absolute path")
		}
	}

	// [logging].logfile
	if c.Logging.Logfile != "" {
		c.Logging.Logfile, err = ndv.ConvertToAbsolute(c.Logging.Logfile, configDir)
		if err != nil {
			return fmt.Errorf("Error converting logfile setting to absolute path")
		}
	}

	// [auth].auth_file
	if c.Auth.AuthFile != "" {
		c.Auth.AuthFile, err = ndv.ConvertToAbsolute(c.Auth.AuthFile, configDir)
		if err != nil {
			return fmt.Errorf("Error converting auth_file setting to absolute path")
		}
	}
	return nil
}

func currentDir() string {
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	return dir
}

// LoadConfig loads ndv server configuration from a TOML file.  An empty filename
// keeps the default configuration.
func LoadConfig(filename string) error {
	tc = defaultConfig()
	tcLocation, tcContent = "", ""
	if filename == "" {
		ndv.Infof("No server TOML configuration file provided, using defaults.\n")
		return nil
	}
	byteContents, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	if _, err := toml.Decode(string(byteContents), &tc); err != nil {
		return fmt.Errorf("could not decode TOML config: %v", err)
	}
	tcLocation = filename
	tcContent = string(byteContents)

	ndv.Debugf("tomlConfig: %v\n", tc)
	if err := tc.convertPathsToAbsolute(filename); err != nil {
		return fmt.Errorf("could not convert relative paths to absolute paths in TOML config: %v", err)
	}
	return nil
}

func decodeTestConfig(config string) error {
	_, err := toml.Decode(config, &tc)
	return err
}

// LogConfig returns the [logging] settings.
func LogConfig() *ndv.LogConfig {
	return &tc.Logging
}

func ConfigLocation() string {
	return tcLocation
}

// ConfigContent returns the raw TOML of the loaded configuration file.
func ConfigContent() string {
	return tcContent
}

func Note() string {
	return tc.Server.Note
}

func HTTPAddress() string {
	return tc.Server.HTTPAddress
}

// SetHTTPAddress overrides the configured address if addr is not empty.
func SetHTTPAddress(addr string) {
	if addr != "" {
		tc.Server.HTTPAddress = addr
	}
}

// Root returns the directory or blob URL holding served files.
func Root() string {
	return tc.Server.Root
}

// SetRoot overrides the configured root if root is not empty.
func SetRoot(root string) error {
	if root == "" {
		return nil
	}
	abs, err := ndv.ConvertToAbsolute(root, currentDir())
	if err != nil {
		return err
	}
	tc.Server.Root = abs
	return nil
}

func CorsDomains() []string {
	return tc.Server.CorsDomains
}

func CompressData() bool {
	return tc.Server.CompressData
}

func ProfileEnabled() bool {
	return tc.Server.Profile
}

func ShutdownDelay() int {
	return tc.Server.ShutdownDelay
}

// MaxExtractBytes returns the limit on bytes returned by one data request, or
// 0 for no limit.
func MaxExtractBytes() int64 {
	if tc.Server.MaxExtractMB <= 0 {
		return 0
	}
	return tc.Server.MaxExtractMB * ndv.Mega
}

// CacheSize returns the number oF bytes reserved for the given identifier.
// If unset, will return 0.
func CacheSize(id string) int {
	if tc.Cache == nil {
		return 0
	}
	setting, found := tc.Cache[id]
	if !found {
		return 0
	}
	return setting.Size * ndv.Mega
}
