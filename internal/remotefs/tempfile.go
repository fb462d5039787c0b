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

package remotefs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/jacobsa/fuse/fuseops"
)

// tempFileName derives a write-back staging file name that encodes fh, so
// concurrent opens can never collide.
func tempFileName(fh fuseops.HandleID) string {
	return fmt.Sprintf("remote_fs_fh_%x.part", uint64(fh))
}

func createEmptyTempFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	return f.Close()
}

func writeTempFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0o600)
}

func writeTempFileAt(path string, data []byte, offset int64) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteAt(data, offset)
	return err
}

func readTempFileAt(path string, dst []byte, offset int64) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	if offset < 0 {
		offset = 0
	}
	n, err := f.ReadAt(dst, offset)
	if errors.Is(err, io.EOF) {
		return n, nil
	}
	return n, err
}

// parsePermissions parses the backend's octal permission string (e.g.
// "755") into a numeric mode. Malformed or missing values default to 0o644,
// the documented default for the `permissions` field in change events.
func parsePermissions(s string) uint32 {
	if s == "" {
		return 0o644
	}
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0o644
	}
	return uint32(v)
}
