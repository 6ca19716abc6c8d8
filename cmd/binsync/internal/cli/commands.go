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

package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	engine "github.com/binsync/engine"
	"github.com/binsync/engine/state"
)

func withClient(fn func(*engine.Client) error) error {
	cfg, z, err := buildConfig()
	if err != nil {
		return err
	}
	defer z.Sync() //nolint:errcheck // best-effort flush on exit

	client, err := engine.Attach(cmdContext(), cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	return fn(client)
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a new binsync repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, z, err := buildConfig()
			if err != nil {
				return err
			}
			defer z.Sync() //nolint:errcheck

			client, err := engine.Init(cmdContext(), cfg)
			if err != nil {
				return err
			}
			defer client.Close()
			fmt.Printf("initialized binsync repository at %s for user %q\n", flagRepoDir, flagUsername)
			return nil
		},
	}
}

func newAttachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attach",
		Short: "Attach to an existing binsync repository, creating your user branch if needed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(c *engine.Client) error {
				fmt.Printf("attached to %s as %q\n", flagRepoDir, flagUsername)
				for _, w := range c.ConnectionWarnings() {
					fmt.Printf("warning: %s\n", w)
				}
				return nil
			})
		},
	}
}

func newCommitCmd() *cobra.Command {
	var annotations []string
	c := &cobra.Command{
		Use:   "commit",
		Short: "Commit annotation changes to your branch",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(client *engine.Client) error {
				s := state.NewTOMLState(flagUsername)
				for _, kv := range annotations {
					k, v, ok := strings.Cut(kv, "=")
					if !ok {
						return fmt.Errorf("invalid --annotate value %q, expected key=value", kv)
					}
					s.SetAnnotation(k, v)
				}
				if err := client.CommitState(cmdContext(), s); err != nil {
					return err
				}
				fmt.Println("committed")
				return nil
			})
		},
	}
	c.Flags().StringArrayVar(&annotations, "annotate", nil, "key=value annotation to set before committing (repeatable)")
	return c
}

func newPullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull",
		Short: "Fetch and fast-forward every branch from the remote",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(c *engine.Client) error {
				if err := c.Pull(cmdContext()); err != nil {
					return err
				}
				fmt.Println("pulled")
				return nil
			})
		},
	}
}

func newPushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "push",
		Short: "Push the root branch and your own branch to the remote",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(c *engine.Client) error {
				if err := c.Push(cmdContext()); err != nil {
					return err
				}
				fmt.Println("pushed")
				return nil
			})
		},
	}
}

func newUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Pull then push (no-op if there is no remote)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(c *engine.Client) error {
				if err := c.Update(cmdContext()); err != nil {
					return err
				}
				fmt.Println("updated")
				return nil
			})
		},
	}
}

func newUsersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List known binsync users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(c *engine.Client) error {
				users, err := c.Users(cmdContext())
				if err != nil {
					return err
				}
				for _, u := range users {
					fmt.Println(u.Username)
				}
				return nil
			})
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show remote configuration and last sync times",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(c *engine.Client) error {
				has, err := c.HasRemote(cmdContext())
				if err != nil {
					return err
				}
				fmt.Printf("has_remote: %v\n", has)
				fmt.Printf("last_commit: %s\n", c.LastCommitTime())
				fmt.Printf("last_pull:   %s\n", c.LastPullTime())
				fmt.Printf("last_push:   %s\n", c.LastPushTime())
				fmt.Printf("connection_warnings: %v\n", c.ConnectionWarnings())
				return nil
			})
		},
	}
}
