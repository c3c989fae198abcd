// Package timerid builds and parses the composite timer key shared by every
// client of a round: "<namespace>:<roomId>:<roundIndex>".
package timerid

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultNamespace scopes round timers apart from any other countdowns that
// may share the store.
const DefaultNamespace = "round"

// ID is a parsed timer identifier.
type ID struct {
	Namespace  string
	RoomID     string
	RoundIndex int
}

// New validates its parts and builds an ID. An empty room id or a negative
// round index is a caller error, never a server error.
func New(namespace, roomID string, roundIndex int) (ID, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if strings.Contains(namespace, ":") {
		return ID{}, fmt.Errorf("timer namespace %q must not contain ':'", namespace)
	}
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return ID{}, fmt.Errorf("timer room id must be a non-empty string")
	}
	if strings.Contains(roomID, ":") {
		return ID{}, fmt.Errorf("timer room id %q must not contain ':'", roomID)
	}
	if roundIndex < 0 {
		return ID{}, fmt.Errorf("timer round index %d must be non-negative", roundIndex)
	}
	return ID{Namespace: namespace, RoomID: roomID, RoundIndex: roundIndex}, nil
}

// String renders the composite key.
func (id ID) String() string {
	return id.Namespace + ":" + id.RoomID + ":" + strconv.Itoa(id.RoundIndex)
}

// Parse splits a composite key back into its parts, validating each.
func Parse(s string) (ID, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return ID{}, fmt.Errorf("timer id %q: expected <namespace>:<roomId>:<roundIndex>", s)
	}
	idx, err := strconv.Atoi(parts[2])
	if err != nil {
		return ID{}, fmt.Errorf("timer id %q: round index %q is not an integer", s, parts[2])
	}
	return New(parts[0], parts[1], idx)
}
