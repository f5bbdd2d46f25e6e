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

package tiercache

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

type lruEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// LRU is the process-local tier: a bounded map plus recency list under one
// mutex. Lookup, insertion, and eviction all take the same lock, so a
// miss-then-populate can never race a concurrent eviction of the same key.
// Eviction happens inline on insert; there is no background sweep. The
// lock is never held across I/O.
type LRU struct {
	mutex     sync.Mutex
	capacity  int
	items     map[string]*list.Element
	order     *list.List
	evictions int64
}

// NewLRU creates an LRU bounded to capacity entries.
func NewLRU(capacity int) *LRU {
	if capacity <= 0 {
		capacity = 1
	}
	return &LRU{
		capacity: capacity,
		items:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

// Get returns the value for key if present and unexpired. Expired entries
// are removed on access.
func (l *LRU) Get(key string) ([]byte, bool) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	elem, found := l.items[key]
	if !found {
		return nil, false
	}
	entry := elem.Value.(*lruEntry)
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		l.order.Remove(elem)
		delete(l.items, key)
		return nil, false
	}
	l.order.MoveToFront(elem)
	return entry.value, true
}

// Set inserts or replaces the value for key. A zero ttl means the entry
// never expires on its own; it can still be evicted or invalidated.
func (l *LRU) Set(key string, value []byte, ttl time.Duration) {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	if elem, found := l.items[key]; found {
		entry := elem.Value.(*lruEntry)
		entry.value = value
		entry.expiresAt = expiresAt
		l.order.MoveToFront(elem)
		return
	}

	if l.order.Len() >= l.capacity {
		back := l.order.Back()
		if back != nil {
			entry := back.Value.(*lruEntry)
			l.order.Remove(back)
			delete(l.items, entry.key)
			l.evictions++
		}
	}

	l.items[key] = l.order.PushFront(&lruEntry{
		key:       key,
		value:     value,
		expiresAt: expiresAt,
	})
}

// Delete removes key if present, reporting whether it was there.
func (l *LRU) Delete(key string) bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	elem, found := l.items[key]
	if !found {
		return false
	}
	l.order.Remove(elem)
	delete(l.items, key)
	return true
}

// DeletePrefix removes every entry whose key starts with prefix and
// returns how many were removed.
func (l *LRU) DeletePrefix(prefix string) int {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	removed := 0
	for key, elem := range l.items {
		if strings.HasPrefix(key, prefix) {
			l.order.Remove(elem)
			delete(l.items, key)
			removed++
		}
	}
	return removed
}

// Len returns the current entry count.
func (l *LRU) Len() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.order.Len()
}

// Evictions returns the number of capacity evictions since creation.
func (l *LRU) Evictions() int64 {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.evictions
}
