package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNoSnapshot is returned by stores that have never been written to.
var ErrNoSnapshot = errors.New("no registry snapshot stored")

// UserProfile is the per-user side table that outlives any room.
type UserProfile struct {
	Notes       []string `json:"notes"`
	TotalOrders int      `json:"orders_taken_lifetime"`
}

// RegistrySnapshot is the whole persisted document.
type RegistrySnapshot struct {
	Rooms        map[string]RoomSnapshot `json:"rooms"`
	UserSessions map[int64]UserProfile   `json:"user_sessions"`
}

// NewRegistrySnapshot returns an empty document.
func NewRegistrySnapshot() *RegistrySnapshot {
	return &RegistrySnapshot{
		Rooms:        make(map[string]RoomSnapshot),
		UserSessions: make(map[int64]UserProfile),
	}
}

// EncodeSnapshot renders the document in its canonical JSON form.
func EncodeSnapshot(snap *RegistrySnapshot) ([]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal registry snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot parses a document written by EncodeSnapshot.
func DecodeSnapshot(data []byte) (*RegistrySnapshot, error) {
	snap := NewRegistrySnapshot()
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal registry snapshot: %w", err)
	}
	if snap.Rooms == nil {
		snap.Rooms = make(map[string]RoomSnapshot)
	}
	if snap.UserSessions == nil {
		snap.UserSessions = make(map[int64]UserProfile)
	}
	return snap, nil
}
