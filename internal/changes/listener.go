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

// Package changes subscribes to the backend's push channel and mutates
// the dispatcher's caches, issuing kernel invalidations, independently of
// any in-flight VFS operation.
package changes

import (
	"context"
	"encoding/json"
	"log/slog"
	"path"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/remotefs-project/remotefs/internal/metrics"
	"github.com/remotefs-project/remotefs/internal/remotefs"
)

// Mutator is the subset of *remotefs.FileSystem the listener drives. A
// narrow interface so tests can substitute a recorder instead of a real
// mounted filesystem.
type Mutator interface {
	ApplyChange(remotefs.ChangeEvent)
}

// wireMessage mirrors the backend's text-framed JSON event envelope.
type wireMessage struct {
	Event   string      `json:"event"`
	Payload wirePayload `json:"payload"`
}

type wirePayload struct {
	Op          string  `json:"op"`
	RelPath     string  `json:"relPath"`
	Name        *string `json:"name"`
	IsDir       *bool   `json:"is_dir"`
	Size        *int64  `json:"size"`
	Mtime       *int64  `json:"mtime"`
	Permissions *string `json:"permissions"`
	Nlink       *int64  `json:"nlink"`
	OldPath     *string `json:"oldPath"`
	NewPath     *string `json:"newPath"`
}

// toEvent applies the documented defaults for missing fields.
func (p wirePayload) toEvent() remotefs.ChangeEvent {
	ev := remotefs.ChangeEvent{
		Op:          p.Op,
		RelPath:     p.RelPath,
		Permissions: "644",
		Nlink:       1,
	}
	if p.Name != nil {
		ev.Name = *p.Name
	} else {
		ev.Name = path.Base(p.RelPath)
	}
	if p.IsDir != nil {
		ev.IsDir = *p.IsDir
	}
	if p.Size != nil {
		ev.Size = *p.Size
	}
	if p.Mtime != nil {
		ev.Mtime = *p.Mtime
	}
	if p.Permissions != nil {
		ev.Permissions = *p.Permissions
	}
	if p.Nlink != nil {
		ev.Nlink = *p.Nlink
	}
	if p.OldPath != nil {
		ev.OldPath = *p.OldPath
	}
	if p.NewPath != nil {
		ev.NewPath = *p.NewPath
	}
	return ev
}

// Listener dials a change-event websocket and dispatches decoded events to
// a Mutator until its context is cancelled.
type Listener struct {
	url     string
	mutator Mutator
	log     *slog.Logger
	dialer  *websocket.Dialer
	retry   backoff.ExponentialBackOff
}

// New returns a Listener that will dial wsURL (e.g. "ws://1.2.3.4:3001/ws/fs-events").
func New(wsURL string, mutator Mutator, log *slog.Logger) *Listener {
	if log == nil {
		log = slog.Default()
	}
	return &Listener{
		url:     wsURL,
		mutator: mutator,
		log:     log,
		dialer:  websocket.DefaultDialer,
		retry: backoff.ExponentialBackOff{
			InitialInterval:     250 * time.Millisecond,
			RandomizationFactor: 0.25,
			Multiplier:          2,
			MaxInterval:         5 * time.Second,
		},
	}
}

// Run blocks until ctx is cancelled or an unrecoverable error occurs. It
// splits the subscription handshake (dial plus reconnect/backoff) from the
// blocking read loop into two goroutines under one errgroup: one task owns
// the handshake, delegating the blocking socket read to the other.
func (l *Listener) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	connCh := make(chan *websocket.Conn)
	lost := make(chan struct{}, 1)

	g.Go(func() error { return l.dialLoop(gctx, connCh, lost) })
	g.Go(func() error { return l.readLoop(gctx, connCh, lost) })

	return g.Wait()
}

func (l *Listener) dialLoop(ctx context.Context, connCh chan<- *websocket.Conn, lost <-chan struct{}) error {
	for {
		conn, err := l.dial(ctx)
		if err != nil {
			return err
		}

		select {
		case connCh <- conn:
		case <-ctx.Done():
			conn.Close()
			return ctx.Err()
		}

		select {
		case <-lost:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *Listener) dial(ctx context.Context) (*websocket.Conn, error) {
	return backoff.Retry(ctx, func() (*websocket.Conn, error) {
		conn, _, err := l.dialer.DialContext(ctx, l.url, nil)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}, backoff.WithBackOff(&l.retry))
}

func (l *Listener) readLoop(ctx context.Context, connCh <-chan *websocket.Conn, lost chan<- struct{}) error {
	for {
		var conn *websocket.Conn
		select {
		case conn = <-connCh:
		case <-ctx.Done():
			return ctx.Err()
		}

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				conn.Close()
				l.log.Warn("change listener connection lost", "err", err)
				select {
				case lost <- struct{}{}:
				case <-ctx.Done():
					return ctx.Err()
				}
				break
			}
			l.dispatch(data)
		}
	}
}

func (l *Listener) dispatch(data []byte) {
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		l.log.Warn("change listener: malformed event", "err", err)
		return
	}
	if msg.Event != "fs_change" {
		return
	}
	ev := msg.Payload.toEvent()
	metrics.ChangeEvents.WithLabelValues(ev.Op).Inc()
	l.mutator.ApplyChange(ev)
}
