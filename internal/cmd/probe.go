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

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/serpent213/libssh/internal/config"
	"github.com/serpent213/libssh/internal/logger"
	"github.com/serpent213/libssh/userauth"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Probe the authentication methods accepted by a server",
	Long: `Send a "none" authentication request and print the methods the server
advertises as able to continue`,
	Run: func(_ *cobra.Command, _ []string) {
		initLogging()
		if err := config.LoadConfig(configDir, configFile); err != nil {
			logger.ErrorToConsole("unable to load configuration: %v", err)
			os.Exit(1)
		}
		if err := runProbe(); err != nil {
			logger.ErrorToConsole("%v", err)
			os.Exit(1)
		}
	},
}

func init() {
	addConfigFlags(probeCmd)
	addConnectionFlags(probeCmd)
	rootCmd.AddCommand(probeCmd)
}

func runProbe() error {
	session, conn, err := authSession()
	if err != nil {
		return err
	}
	defer conn.Close()

	rc := session.None("")
	if banner := session.Banner(); banner != "" {
		fmt.Println(banner)
	}
	switch rc {
	case userauth.AuthSuccess:
		fmt.Println("the server accepts unauthenticated access")
		return nil
	case userauth.AuthDenied, userauth.AuthPartial:
		fmt.Printf("authentication methods: %s\n", session.ListMethods())
		return nil
	default:
		return fmt.Errorf("probe failed: %v", session.Err())
	}
}
