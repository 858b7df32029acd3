// Copyright 2025 Kadir Pekel
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

package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kadirpekel/mend/pkg/rag"
)

// Manager owns the per-process session map.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates an empty session manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// Create opens a session. Empty identity fields default to an
// anonymous general-department user.
func (m *Manager) Create(userID, department, role string, mode ChatMode) *Session {
	if userID == "" {
		userID = "anonymous"
	}
	if department == "" {
		department = "general"
	}
	if role == "" {
		role = "user"
	}
	if mode == "" {
		mode = ModeUser
	}

	now := time.Now()
	s := &Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		Department:   department,
		Role:         role,
		Mode:         mode,
		ResponseMode: rag.ResponseConcise,
		CreatedAt:    now,
		LastActivity: now,
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

// Get looks up a session; nil if unknown.
func (m *Manager) Get(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

// Close removes a session from the map.
func (m *Manager) Close(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Count reports the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
