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

package poolhealth

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeSource struct {
	mu    sync.Mutex
	stats PoolStats
}

func (f *fakeSource) PoolStats() PoolStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *fakeSource) set(inUse, max int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats = PoolStats{InUse: inUse, Max: max}
}

func TestMonitor_HighWaterMark(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{}
	m := NewMonitor(Config{WarnThreshold: 0.8}, src)

	src.set(2, 10)
	m.Sample(ctx)
	assert.InDelta(t, 0.2, m.HighWaterMark(), 0.0001)

	src.set(9, 10)
	m.Sample(ctx)
	assert.InDelta(t, 0.9, m.HighWaterMark(), 0.0001)

	// High water never goes back down.
	src.set(1, 10)
	m.Sample(ctx)
	assert.InDelta(t, 0.9, m.HighWaterMark(), 0.0001)
}

func TestMonitor_SampleIgnoresEmptyPool(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{}
	m := NewMonitor(Config{}, src)

	src.set(0, 0)
	m.Sample(ctx)
	assert.Zero(t, m.HighWaterMark())
}

func TestMonitor_DegradedAfterConsecutiveFailures(t *testing.T) {
	ctx := context.Background()
	m := NewMonitor(Config{DegradeAfterFailures: 3}, &fakeSource{})

	m.ReportStoreFailure(ctx)
	m.ReportStoreFailure(ctx)
	assert.False(t, m.Degraded(), "below the failure threshold")

	m.ReportStoreFailure(ctx)
	assert.True(t, m.Degraded())

	// Still degraded on further failures, no flapping.
	m.ReportStoreFailure(ctx)
	assert.True(t, m.Degraded())

	m.ReportStoreSuccess()
	assert.False(t, m.Degraded(), "one success clears the mark")

	// A success in the middle of a streak resets the count.
	m.ReportStoreFailure(ctx)
	m.ReportStoreFailure(ctx)
	m.ReportStoreSuccess()
	m.ReportStoreFailure(ctx)
	m.ReportStoreFailure(ctx)
	assert.False(t, m.Degraded())
}
