// Copyright (C) 2019 Nicola Murino
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// Package config manages the configuration
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/serpent213/libssh/internal/logger"
	"github.com/serpent213/libssh/internal/util"
)

const (
	logSender = "config"
	// configName defines the name for the config file.
	// This name does not include the extension, viper will search for
	// files with supported extensions such as "libssh.json",
	// "libssh.yaml" and so on
	configName = "libssh"
	// configEnvPrefix defines a prefix that environment variables will
	// use
	configEnvPrefix = "libssh"
)

// ClientConfig defines the SSH client configuration
type ClientConfig struct {
	// Host to connect to
	Host string `mapstructure:"host"`
	// Port to connect to
	Port int `mapstructure:"port"`
	// Username to authenticate
	Username string `mapstructure:"username"`
	// IdentityFiles are the private key paths tried for public key
	// authentication, without the ".pub" suffix
	IdentityFiles []string `mapstructure:"identity_files"`
	// Timeout for a single authentication call, in seconds.
	// 0 means wait forever
	Timeout int `mapstructure:"timeout"`
	// Compression offers zlib@openssh.com delayed compression during
	// key exchange
	Compression bool `mapstructure:"compression"`
}

type globalConfig struct {
	Client ClientConfig `mapstructure:"client"`
}

var (
	globalConf globalConfig
	viperConf  *viper.Viper
)

func init() {
	Init()
}

// Init initializes the global configuration to its defaults
func Init() {
	globalConf = globalConfig{
		Client: ClientConfig{
			Host: "localhost",
			Port: 22,
			IdentityFiles: []string{
				"~/.ssh/id_rsa",
				"~/.ssh/id_ecdsa",
				"~/.ssh/id_ed25519",
			},
			Timeout:     30,
			Compression: false,
		},
	}
	viperConf = viper.New()
	setViperDefaults()
	viperConf.SetEnvPrefix(configEnvPrefix)
	replacer := strings.NewReplacer(".", "__")
	viperConf.SetEnvKeyReplacer(replacer)
	viperConf.SetConfigName(configName)
	viperConf.AutomaticEnv()
	viperConf.AllowEmptyEnv(true)
}

// LoadConfig loads the configuration.
// configDir will be added to the configuration search paths.
// The search path contains by default the current directory and on linux
// it contains $HOME/.config/libssh and /etc/libssh too.
// configFile is an absolute or relative path (to the config dir) to the
// configuration file and it overrides the default file name
func LoadConfig(configDir, configFile string) error {
	if configFile == "" {
		viperConf.AddConfigPath(configDir)
		addLocalConfigPaths()
	} else {
		if !filepath.IsAbs(configFile) {
			configFile = filepath.Join(configDir, configFile)
		}
		viperConf.SetConfigFile(configFile)
	}
	if err := viperConf.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && configFile == "" {
			logger.Debug(logSender, "", "no configuration file found, using defaults")
		} else {
			logger.Warn(logSender, "", "error loading configuration file: %v", err)
			return err
		}
	}
	if err := viperConf.Unmarshal(&globalConf); err != nil {
		logger.Warn(logSender, "", "error parsing configuration file: %v", err)
		return err
	}
	for i, name := range globalConf.Client.IdentityFiles {
		name = util.ExpandPath(name)
		if !filepath.IsAbs(name) {
			name = filepath.Join(configDir, name)
		}
		globalConf.Client.IdentityFiles[i] = name
	}
	globalConf.Client.IdentityFiles = util.RemoveDuplicates(globalConf.Client.IdentityFiles, true)
	logger.Debug(logSender, "", "configuration loaded: %+v", globalConf)
	return nil
}

// GetClientConfig returns the client configuration
func GetClientConfig() ClientConfig {
	return globalConf.Client
}

// SetClientConfig sets the client configuration
func SetClientConfig(config ClientConfig) {
	globalConf.Client = config
}

// Address returns the host:port pair to dial
func (c *ClientConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func setViperDefaults() {
	viperConf.SetDefault("client.host", globalConf.Client.Host)
	viperConf.SetDefault("client.port", globalConf.Client.Port)
	viperConf.SetDefault("client.username", globalConf.Client.Username)
	viperConf.SetDefault("client.identity_files", globalConf.Client.IdentityFiles)
	viperConf.SetDefault("client.timeout", globalConf.Client.Timeout)
	viperConf.SetDefault("client.compression", globalConf.Client.Compression)
}

func addLocalConfigPaths() {
	home := util.GetHomeDir()
	if home != "" {
		viperConf.AddConfigPath(filepath.Join(home, ".config", configName))
	}
	viperConf.AddConfigPath("/etc/" + configName)
}
