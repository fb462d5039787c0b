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

// Package remote is the HTTP backend client the VFS dispatcher calls out
// to for every operation that must reach the server.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/remotefs-project/remotefs/internal/metrics"
	"github.com/remotefs-project/remotefs/internal/remotefs/errs"
)

func openForRead(path string) (*os.File, error) {
	return os.Open(path)
}

// DirectoryEntry mirrors one record of a backend listing response or a
// get_update_metadata response.
type DirectoryEntry struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	Mtime       int64  `json:"mtime"`
	Permissions string `json:"permissions"`
	Nlink       int64  `json:"nlink"`
	IsDir       bool   `json:"-"`
	IsDirRaw    int    `json:"is_dir"`
}

// Statfs mirrors the backend's statfs response.
type Statfs struct {
	Bsize  uint32
	Blocks uint64
	Bfree  uint64
	Bavail uint64
	Files  uint64
	Ffree  uint64
}

// Client is everything the VFS dispatcher needs from the backend. One
// implementation, httpClient, is provided; tests substitute a fake.
type Client interface {
	ReadFile(ctx context.Context, relPath string) ([]byte, error)
	ReadRange(ctx context.Context, relPath string, start, end int64) ([]byte, error)
	ReadAll(ctx context.Context, relPath string, size int64) ([]byte, error)
	WriteFile(ctx context.Context, relPath, localPath string) error
	Delete(ctx context.Context, relPath string) error
	Mkdir(ctx context.Context, relPath string) error
	List(ctx context.Context, relPath string) ([]DirectoryEntry, error)
	Truncate(ctx context.Context, relPath string, size uint64) error
	Rename(ctx context.Context, oldRel, newRel string) error
	Statfs(ctx context.Context) (Statfs, error)
	UpdateMetadata(ctx context.Context, relPath string) (DirectoryEntry, error)
}

// httpClient implements Client over net/http against the backend's REST
// surface.
type httpClient struct {
	baseURL string
	hc      *http.Client
	retry   backoff.ExponentialBackOff
}

// NewHTTPClient returns a Client talking to baseURL, e.g. "http://1.2.3.4:3001".
func NewHTTPClient(baseURL string) Client {
	return &httpClient{
		baseURL: baseURL,
		hc:      &http.Client{Timeout: 30 * time.Second},
		retry: backoff.ExponentialBackOff{
			InitialInterval:     100 * time.Millisecond,
			RandomizationFactor: 0.25,
			Multiplier:          2,
			MaxInterval:         2 * time.Second,
		},
	}
}

// retryTransport wraps an idempotent call, retrying only transport-level
// failures (the request never reached the server, or no response came
// back) and never a well-formed HTTP status response. A status error is
// terminal and must reach the Error Mapper unchanged.
func retryTransport[T any](ctx context.Context, policy backoff.ExponentialBackOff, op func() (T, error)) (T, error) {
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(&policy),
		backoff.WithMaxTries(5),
	)
}

func (c *httpClient) do(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Response, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	return c.hc.Do(req)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	endpoint := resp.Request.URL.Path
	se := &errs.StatusError{Code: resp.StatusCode}
	metrics.BackendErrors.WithLabelValues(endpoint, strconv.Itoa(int(errs.Errno(se)))).Inc()
	return se
}

func (c *httpClient) ReadFile(ctx context.Context, relPath string) ([]byte, error) {
	return retryTransport(ctx, c.retry, func() ([]byte, error) {
		resp, err := c.do(ctx, http.MethodGet, "/files", url.Values{"relPath": {relPath}}, nil)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if err := checkStatus(resp); err != nil {
			return nil, backoff.Permanent(err)
		}
		return io.ReadAll(resp.Body)
	})
}

func (c *httpClient) ReadRange(ctx context.Context, relPath string, start, end int64) ([]byte, error) {
	return retryTransport(ctx, c.retry, func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/files?relPath="+url.QueryEscape(relPath), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))
		resp, err := c.hc.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if err := checkStatus(resp); err != nil {
			return nil, backoff.Permanent(err)
		}
		return io.ReadAll(resp.Body)
	})
}

func (c *httpClient) ReadAll(ctx context.Context, relPath string, size int64) ([]byte, error) {
	if size <= 0 {
		return nil, nil
	}
	return c.ReadFile(ctx, relPath)
}

// WriteFile streams localPath's content to the backend. Not wrapped in the
// transport retry: a PUT that reached the server but whose ack was lost on
// the way back must not be blindly replayed.
func (c *httpClient) WriteFile(ctx context.Context, relPath, localPath string) error {
	f, err := openForRead(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	resp, err := c.do(ctx, http.MethodPut, "/files", url.Values{"relPath": {relPath}}, f)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

func (c *httpClient) Delete(ctx context.Context, relPath string) error {
	_, err := retryTransport(ctx, c.retry, func() (struct{}, error) {
		resp, err := c.do(ctx, http.MethodDelete, "/files", url.Values{"relPath": {relPath}}, nil)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()
		if err := checkStatus(resp); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, nil
	})
	return err
}

func (c *httpClient) Mkdir(ctx context.Context, relPath string) error {
	_, err := retryTransport(ctx, c.retry, func() (struct{}, error) {
		resp, err := c.do(ctx, http.MethodPost, "/mkdir", url.Values{"relPath": {relPath}}, nil)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()
		if err := checkStatus(resp); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, nil
	})
	return err
}

func (c *httpClient) List(ctx context.Context, relPath string) ([]DirectoryEntry, error) {
	return retryTransport(ctx, c.retry, func() ([]DirectoryEntry, error) {
		resp, err := c.do(ctx, http.MethodGet, "/list/"+relPath, nil, nil)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if err := checkStatus(resp); err != nil {
			return nil, backoff.Permanent(err)
		}
		var raw []DirectoryEntry
		if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
			return nil, backoff.Permanent(err)
		}
		for i := range raw {
			raw[i].IsDir = raw[i].IsDirRaw != 0
		}
		return raw, nil
	})
}

func (c *httpClient) Truncate(ctx context.Context, relPath string, size uint64) error {
	_, err := retryTransport(ctx, c.retry, func() (struct{}, error) {
		resp, err := c.do(ctx, http.MethodPost, "/truncate", url.Values{
			"relPath": {relPath},
			"size":    {strconv.FormatUint(size, 10)},
		}, nil)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()
		if err := checkStatus(resp); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, nil
	})
	return err
}

func (c *httpClient) Rename(ctx context.Context, oldRel, newRel string) error {
	_, err := retryTransport(ctx, c.retry, func() (struct{}, error) {
		resp, err := c.do(ctx, http.MethodPost, "/rename", url.Values{
			"old": {oldRel},
			"new": {newRel},
		}, nil)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()
		if err := checkStatus(resp); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, nil
	})
	return err
}

func (c *httpClient) Statfs(ctx context.Context) (Statfs, error) {
	return retryTransport(ctx, c.retry, func() (Statfs, error) {
		resp, err := c.do(ctx, http.MethodGet, "/statfs", nil, nil)
		if err != nil {
			return Statfs{}, err
		}
		defer resp.Body.Close()
		if err := checkStatus(resp); err != nil {
			return Statfs{}, backoff.Permanent(err)
		}
		var s Statfs
		if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
			return Statfs{}, backoff.Permanent(err)
		}
		return s, nil
	})
}

func (c *httpClient) UpdateMetadata(ctx context.Context, relPath string) (DirectoryEntry, error) {
	return retryTransport(ctx, c.retry, func() (DirectoryEntry, error) {
		resp, err := c.do(ctx, http.MethodGet, "/get_update_metadata", url.Values{"relPath": {relPath}}, nil)
		if err != nil {
			return DirectoryEntry{}, err
		}
		defer resp.Body.Close()
		if err := checkStatus(resp); err != nil {
			return DirectoryEntry{}, backoff.Permanent(err)
		}
		var e DirectoryEntry
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil {
			return DirectoryEntry{}, backoff.Permanent(err)
		}
		e.IsDir = e.IsDirRaw != 0
		return e, nil
	})
}
