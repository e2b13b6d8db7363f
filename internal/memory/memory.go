// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package memory provides the bounded conversation memory shared by
// concurrent chat requests.
package memory

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCapacity is the number of entries kept when no capacity is given.
const DefaultCapacity = 10

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of an entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// =============================================================================
// ENTRY TYPE
// =============================================================================

// Entry is a single exchanged message. Entries are values and are never
// modified after creation.
type Entry struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Model     string    `json:"model,omitempty"` // model that produced an assistant entry
}

// =============================================================================
// MEMORY
// =============================================================================

// Memory is an ordered, fixed-capacity store of entries. When an append
// would exceed the capacity, the oldest entries are evicted first.
//
// Memory is safe for concurrent use.
type Memory struct {
	mu       sync.RWMutex
	entries  []Entry
	capacity int
}

// New creates a memory holding at most capacity entries. A capacity of zero
// or less uses DefaultCapacity.
func New(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Memory{
		entries:  make([]Entry, 0, capacity),
		capacity: capacity,
	}
}

// AddEntry appends an entry with a generated ID and timestamp.
func (m *Memory) AddEntry(role Role, content string) Entry {
	return m.AddEntryWithModel(role, content, "")
}

// AddEntryWithModel appends an entry tagged with the model that produced it.
func (m *Memory) AddEntryWithModel(role Role, content, model string) Entry {
	entry := Entry{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
		Model:     model,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append(m.entries, entry)
	if overflow := len(m.entries) - m.capacity; overflow > 0 {
		// Copy the survivors down so the backing array does not grow
		// without bound across evictions.
		n := copy(m.entries, m.entries[overflow:])
		clear(m.entries[n:])
		m.entries = m.entries[:n]
	}
	return entry
}

// GetRecent returns the last min(limit, Size()) entries, oldest first.
// The returned slice is a copy.
func (m *Memory) GetRecent(limit int) []Entry {
	if limit <= 0 {
		return []Entry{}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	start := len(m.entries) - limit
	if start < 0 {
		start = 0
	}
	out := make([]Entry, len(m.entries)-start)
	copy(out, m.entries[start:])
	return out
}

// All returns a copy of every entry, oldest first.
func (m *Memory) All() []Entry {
	return m.GetRecent(m.Capacity())
}

// Size returns the number of stored entries.
func (m *Memory) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Capacity returns the maximum number of entries.
func (m *Memory) Capacity() int {
	return m.capacity
}

// Summary describes the fill level, e.g. "7/10 messages".
func (m *Memory) Summary() string {
	return fmt.Sprintf("%d/%d messages", m.Size(), m.capacity)
}

// Clear removes every entry, starting a fresh session.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.entries)
	m.entries = m.entries[:0]
}
