/*
SPDX-License-Identifier: Apache-2.0

Copyright 2025 ConfigButler

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package cli implements the binsync command-line host application: a
// cobra command tree over the binsync engine, wired to a zap-backed logr
// logger. It does not configure metrics or expose a metrics endpoint.
package cli

import (
	"os"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	engine "github.com/binsync/engine"
	"github.com/binsync/engine/internal/authshim"
	"github.com/binsync/engine/state"
)

var (
	flagRepoDir    string
	flagRemoteURL  string
	flagRemoteName string
	flagUsername   string
	flagBinaryHash string
	flagSSHKeyFile string
	flagKnownHosts string
	flagHTTPUser   string
	flagHTTPToken  string
	flagVerbose    bool
)

// Execute runs the binsync CLI, returning the first error encountered.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "binsync",
		Short:        "Synchronize reverse-engineering annotations across a team via git",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagRepoDir, "repo", ".", "path to the local binsync repository")
	root.PersistentFlags().StringVar(&flagRemoteURL, "remote-url", "", "remote repository URL (optional)")
	root.PersistentFlags().StringVar(&flagRemoteName, "remote-name", "origin", "git remote name")
	root.PersistentFlags().StringVar(&flagUsername, "user", "", "your binsync username (required)")
	root.PersistentFlags().StringVar(&flagBinaryHash, "binary-hash", "", "identifier of the binary being annotated")
	root.PersistentFlags().StringVar(&flagSSHKeyFile, "ssh-key", "", "path to an SSH private key for the remote")
	root.PersistentFlags().StringVar(&flagKnownHosts, "known-hosts", "", "path to a known_hosts file for SSH verification")
	root.PersistentFlags().StringVar(&flagHTTPUser, "http-user", "", "HTTP basic auth username for the remote")
	root.PersistentFlags().StringVar(&flagHTTPToken, "http-token", "", "HTTP basic auth password/token for the remote")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newInitCmd(),
		newAttachCmd(),
		newCommitCmd(),
		newPullCmd(),
		newPushCmd(),
		newUpdateCmd(),
		newUsersCmd(),
		newStatusCmd(),
	)
	return root
}

func newLogger() (logr.Logger, *zap.Logger, error) {
	var cfg zap.Config
	if flagVerbose {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	z, err := cfg.Build()
	if err != nil {
		return logr.Logger{}, nil, err
	}
	return zapr.NewLogger(z), z, nil
}

func buildAuth(log logr.Logger) (transport.AuthMethod, error) {
	if flagSSHKeyFile != "" {
		key, err := os.ReadFile(flagSSHKeyFile)
		if err != nil {
			return nil, err
		}
		knownHosts := ""
		if flagKnownHosts != "" {
			kh, err := os.ReadFile(flagKnownHosts)
			if err != nil {
				return nil, err
			}
			knownHosts = string(kh)
		}
		return authshim.SSHKeyAuth(log, string(key), "", knownHosts)
	}
	if flagHTTPUser != "" || flagHTTPToken != "" {
		return authshim.HTTPAuth(flagHTTPUser, flagHTTPToken), nil
	}
	return nil, nil
}

// buildConfig assembles an engine.Config from the persistent flags, along
// with its own zap logger so callers can flush it on exit.
func buildConfig() (engine.Config, *zap.Logger, error) {
	log, z, err := newLogger()
	if err != nil {
		return engine.Config{}, nil, err
	}
	auth, err := buildAuth(log)
	if err != nil {
		return engine.Config{}, nil, err
	}
	return engine.Config{
		RepoDir:    flagRepoDir,
		RemoteURL:  flagRemoteURL,
		RemoteName: flagRemoteName,
		Username:   flagUsername,
		BinaryHash: flagBinaryHash,
		Parser:     state.ParseTOMLState,
		NewEmptyState: func(username string) state.State {
			return state.NewTOMLState(username)
		},
		Auth:   auth,
		Logger: log,
	}, z, nil
}
