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
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/jacobsa/fuse"
	"github.com/spf13/cobra"

	"github.com/remotefs-project/remotefs/internal/changes"
	"github.com/remotefs-project/remotefs/internal/logger"
	"github.com/remotefs-project/remotefs/internal/metrics"
	"github.com/remotefs-project/remotefs/internal/remote"
	"github.com/remotefs-project/remotefs/internal/remotefs"
)

func runMount(cmd *cobra.Command, args []string) error {
	c, err := loadConfig()
	if err != nil {
		return err
	}

	if c.BackendIP == "" {
		c.BackendIP, err = promptBackendIP()
		if err != nil {
			return err
		}
	}
	if net.ParseIP(c.BackendIP) == nil {
		return fmt.Errorf("invalid backend IP address: %q", c.BackendIP)
	}

	if c.Mountpoint == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolving home directory: %w", err)
		}
		c.Mountpoint = filepath.Join(home, "mnt", "remote-fs")
	}
	if err := os.MkdirAll(c.Mountpoint, 0o755); err != nil {
		return fmt.Errorf("creating mount point: %w", err)
	}

	if c.TempDir == "" {
		c.TempDir = filepath.Join(os.TempDir(), "remotefs")
	}
	if err := os.MkdirAll(c.TempDir, 0o700); err != nil {
		return fmt.Errorf("creating temp dir: %w", err)
	}

	if err := logger.Init(c.Logging); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Close()
	log := logger.Default()

	baseURL := fmt.Sprintf("http://%s:%d", c.BackendIP, c.BackendPort)
	wsURL := fmt.Sprintf("ws://%s:%d/ws/fs-events", c.BackendIP, c.BackendPort)

	client := remote.NewHTTPClient(baseURL)

	fsys := remotefs.New(remotefs.Config{
		Client:  client,
		TempDir: c.TempDir,
		DirTTL:  c.DirTTL,
		Log:     log,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listener := changes.New(wsURL, fsys, log)
	var listenerErr error
	listenerDone := make(chan struct{})
	go func() {
		defer close(listenerDone)
		if err := listener.Run(ctx); err != nil && ctx.Err() == nil {
			listenerErr = err
			log.Error("change listener exited", "err", err)
		}
	}()

	if c.MetricsPort != 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: fmt.Sprintf(":%d", c.MetricsPort), Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn("metrics server exited", "err", err)
			}
		}()
		defer srv.Close()
	}

	mountCfg := &fuse.MountConfig{
		FSName:     "remote_fs",
		Subtype:    "remotefs",
		VolumeName: "remotefs",
	}

	mfs, err := fuse.Mount(c.Mountpoint, fsys.Server(), mountCfg)
	if err != nil {
		cancel()
		return fmt.Errorf("mounting at %s: %w", c.Mountpoint, err)
	}
	log.Info("mounted", "mountpoint", c.Mountpoint, "backend", baseURL)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("received shutdown signal, unmounting")
		if err := fuse.Unmount(mfs.Dir()); err != nil {
			log.Warn("unmount failed", "err", err)
		}
	}()

	joinErr := mfs.Join(ctx)
	cancel()
	<-listenerDone

	fsys.Writes().CleanupAll()

	if joinErr != nil {
		return fmt.Errorf("serving filesystem: %w", joinErr)
	}
	if listenerErr != nil {
		log.Warn("change listener ended with error", "err", listenerErr)
	}
	return nil
}

func promptBackendIP() (string, error) {
	fmt.Fprint(os.Stdout, "Backend IP address: ")
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("no backend IP address supplied")
	}
	return strings.TrimSpace(scanner.Text()), nil
}
