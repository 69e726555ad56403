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
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/serpent213/libssh/internal/config"
	"github.com/serpent213/libssh/internal/logger"
	"github.com/serpent213/libssh/sshagent"
	"github.com/serpent213/libssh/transport"
	"github.com/serpent213/libssh/userauth"
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect and authenticate to an SSH server",
	Long: `Connect to the configured SSH server and run the user authentication
cascade: ssh-agent identities first, then the configured identity files,
then keyboard-interactive and password if the server allows them`,
	Run: func(_ *cobra.Command, _ []string) {
		initLogging()
		if err := config.LoadConfig(configDir, configFile); err != nil {
			logger.ErrorToConsole("unable to load configuration: %v", err)
			os.Exit(1)
		}
		if err := runConnect(); err != nil {
			logger.ErrorToConsole("%v", err)
			os.Exit(1)
		}
	},
}

func init() {
	addConfigFlags(connectCmd)
	addConnectionFlags(connectCmd)
	rootCmd.AddCommand(connectCmd)
}

func authSession() (*userauth.Session, *transport.Conn, error) {
	cfg := config.GetClientConfig()
	if host != "" {
		cfg.Host = host
	}
	if port > 0 {
		cfg.Port = port
	}
	if username != "" {
		cfg.Username = username
	}
	if cfg.Username == "" {
		cfg.Username = os.Getenv("USER")
	}

	conn, err := transport.Dial(cfg.Address(), transport.Config{
		EnableCompression: cfg.Compression,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := conn.Handshake(); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("handshake with %q failed: %w", cfg.Address(), err)
	}

	var agent userauth.Agent
	if sshagent.IsRunning() {
		agentConn, err := sshagent.New()
		if err != nil {
			logger.Warn(logSender, conn.ID(), "unable to use ssh-agent: %v", err)
		} else {
			agent = agentConn
		}
	}

	session := userauth.NewSession(conn, userauth.Config{
		Username:      cfg.Username,
		IdentityFiles: cfg.IdentityFiles,
		Timeout:       time.Duration(cfg.Timeout) * time.Second,
		Agent:         agent,
		Prompt:        promptCredential,
	})
	return session, conn, nil
}

func runConnect() error {
	session, conn, err := authSession()
	if err != nil {
		return err
	}
	defer conn.Close()

	// probe with none first, both to get the advertised methods and for
	// servers accepting unauthenticated access
	rc := session.None("")
	if banner := session.Banner(); banner != "" {
		fmt.Println(banner)
	}
	if rc == userauth.AuthSuccess {
		logger.InfoToConsole("authenticated with the none method")
		return nil
	}
	if rc == userauth.AuthError {
		return fmt.Errorf("authentication failed: %v", session.Err())
	}
	methods := session.ListMethods()
	logger.DebugToConsole("authentication methods that can continue: %s", methods)

	if methods&userauth.MethodPublicKey != 0 {
		rc = session.PublicKeyAuto("", "")
		if rc == userauth.AuthSuccess {
			logger.InfoToConsole("authenticated with public key")
			return nil
		}
		if rc == userauth.AuthError {
			return fmt.Errorf("public key authentication failed: %v", session.Err())
		}
	}
	if methods&userauth.MethodInteractive != 0 {
		rc = runKbdint(session)
		if rc == userauth.AuthSuccess {
			logger.InfoToConsole("authenticated with keyboard-interactive")
			return nil
		}
		if rc == userauth.AuthError {
			return fmt.Errorf("keyboard-interactive authentication failed: %v", session.Err())
		}
	}
	if methods&userauth.MethodPassword != 0 {
		cfg := config.GetClientConfig()
		password, err := promptCredential(fmt.Sprintf("%s's password: ", cfg.Username), false)
		if err != nil {
			return err
		}
		rc = session.Password("", password)
		if rc == userauth.AuthSuccess {
			logger.InfoToConsole("authenticated with password")
			return nil
		}
		if rc == userauth.AuthError {
			return fmt.Errorf("password authentication failed: %v", session.Err())
		}
	}
	return fmt.Errorf("access denied, methods that can continue: %s", session.ListMethods())
}

// runKbdint drives the keyboard-interactive exchange: it shows the server
// prompts, collects the answers and iterates until a terminal result
func runKbdint(session *userauth.Session) userauth.Result {
	rc := session.Kbdint("", "")
	for rc == userauth.AuthInfo {
		if name := session.KbdintName(); name != "" {
			fmt.Println(name)
		}
		if instruction := session.KbdintInstruction(); instruction != "" {
			fmt.Println(instruction)
		}
		for i := 0; i < session.KbdintNPrompts(); i++ {
			prompt, echo, err := session.KbdintPrompt(i)
			if err != nil {
				logger.ErrorToConsole("unable to get prompt %d: %v", i, err)
				return userauth.AuthError
			}
			answer, err := promptCredential(prompt, echo)
			if err != nil {
				logger.ErrorToConsole("unable to read answer: %v", err)
				return userauth.AuthError
			}
			if err := session.KbdintSetAnswer(i, answer); err != nil {
				logger.ErrorToConsole("unable to set answer %d: %v", i, err)
				return userauth.AuthError
			}
		}
		rc = session.Kbdint("", "")
	}
	return rc
}

// promptCredential reads user input from the terminal, without echo for
// sensitive values
func promptCredential(prompt string, echo bool) (string, error) {
	fmt.Print(prompt)
	if !echo {
		defer fmt.Println()
		value, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return "", err
		}
		return string(value), nil
	}
	value, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(value, "\r\n"), nil
}
