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

package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveOpPropagatesResultAndRecordsDuration(t *testing.T) {
	before := testutil.CollectAndCount(OpDuration)

	wantErr := errors.New("boom")
	err := ObserveOp("test_op", func() error { return wantErr })
	assert.Equal(t, wantErr, err)

	after := testutil.CollectAndCount(OpDuration)
	assert.Greater(t, after, before-1)
}

func TestHandlerServesPrometheusText(t *testing.T) {
	CacheLookups.WithLabelValues("attr", "hit").Inc()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "remotefs_cache_lookups_total")
}
