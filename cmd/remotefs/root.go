// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/remotefs-project/remotefs/internal/cfg"
)

var (
	cfgFile    string
	backendIP  string
	mountPoint string
)

var rootCmd = &cobra.Command{
	Use:   "remotefs",
	Short: "Mount a remote HTTP file store as a local FUSE filesystem",
	Long: `remotefs is a network-backed FUSE client. It presents a remote HTTP
file store as a locally mounted POSIX filesystem, keeping inode/path
mappings, attribute and directory caches, and a write-back layer on local
temp files, and staying in sync with server-pushed change events.`,
}

var mountCmd = &cobra.Command{
	Use:   "mount",
	Short: "Mount the remote filesystem",
	RunE:  runMount,
}

func init() {
	mountCmd.Flags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	mountCmd.Flags().StringVar(&backendIP, "backend-ip", "", "backend host IP address (prompted for if omitted)")
	mountCmd.Flags().StringVar(&mountPoint, "mountpoint", "", "mount point (default $HOME/mnt/remote-fs)")
	rootCmd.AddCommand(mountCmd)
}

func loadConfig() (cfg.Config, error) {
	v := viper.New()
	c, err := cfg.Load(v, cfgFile)
	if err != nil {
		return cfg.Config{}, fmt.Errorf("loading config: %w", err)
	}
	if backendIP != "" {
		c.BackendIP = backendIP
	}
	if mountPoint != "" {
		c.Mountpoint = mountPoint
	}
	return c, nil
}
