// Copyright (C) 2025-2026 CartaHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package healthcheck

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadiness_ConditionsGateReady(t *testing.T) {
	s := NewServer(Config{})

	assert.False(t, s.IsReady(), "server starts not ready")

	s.SetReady(true)
	assert.True(t, s.IsReady())

	s.SetReadyCondition("database", false)
	assert.False(t, s.IsReady())
	assert.Equal(t, []string{"database"}, s.FailingConditions())

	s.SetReadyCondition("database", true)
	assert.True(t, s.IsReady())

	s.SetReadyCondition("distributed_cache", false)
	assert.False(t, s.IsReady())

	s.ClearReadyCondition("distributed_cache")
	assert.True(t, s.IsReady())
}

func TestReadyzHandler_ReportsFailingConditions(t *testing.T) {
	s := NewServer(Config{})
	s.SetReady(true)
	s.SetReadyCondition("database", false)

	rec := httptest.NewRecorder()
	s.readyzHandler(rec, httptest.NewRequest("GET", "/readyz", nil))

	assert.Equal(t, 503, rec.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Healthy)
	assert.Equal(t, []string{"database"}, resp.Failing)
}

func TestLivezHandler(t *testing.T) {
	s := NewServer(Config{})

	rec := httptest.NewRecorder()
	s.livezHandler(rec, httptest.NewRequest("GET", "/livez", nil))
	assert.Equal(t, 200, rec.Code, "starting process is alive")

	s.SetStatus(StatusUnhealthy)
	rec = httptest.NewRecorder()
	s.livezHandler(rec, httptest.NewRequest("GET", "/livez", nil))
	assert.Equal(t, 503, rec.Code)
}
