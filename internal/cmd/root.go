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

// Package cmd provides Command Line Interface support
package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/serpent213/libssh/internal/logger"
	"github.com/serpent213/libssh/internal/version"
)

const (
	logSender = "cmd"

	configDirFlag  = "config-dir"
	configFileFlag = "config-file"
	logLevelFlag   = "log-level"
	hostFlag       = "host"
	portFlag       = "port"
	usernameFlag   = "username"

	defaultConfigDir = "."
	defaultLogLevel  = "info"
)

var (
	configDir  string
	configFile string
	logLevel   string
	host       string
	port       int
	username   string

	rootCmd = &cobra.Command{
		Use:   "libssh",
		Short: "SSH user authentication client",
	}
)

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.Flags().BoolP("version", "v", false, "")
	rootCmd.Version = version.GetAsString()
	rootCmd.SetVersionTemplate(`{{printf "libssh "}}{{printf "%s" .Version}}
`)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func addConfigFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&configDir, configDirFlag, "c", defaultConfigDir,
		`Location of the config dir. This directory
is used as the base for files with a relative
path, e.g. the identity files`)
	cmd.Flags().StringVar(&configFile, configFileFlag, "",
		`Path to the configuration file. It overrides
the default file name and it can be an
absolute path or a path relative to the
config dir`)
	cmd.Flags().StringVarP(&logLevel, logLevelFlag, "l", defaultLogLevel,
		"Set the log level. Supported values: debug, info, warn, error")
}

func addConnectionFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&host, hostFlag, "", "The host to connect to")
	cmd.Flags().IntVar(&port, portFlag, 0, "The port to connect to")
	cmd.Flags().StringVarP(&username, usernameFlag, "u", "", "The username to authenticate")
}

func initLogging() {
	level := zerolog.InfoLevel
	switch logLevel {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}
	logger.InitStdErrLogger(level)
}
