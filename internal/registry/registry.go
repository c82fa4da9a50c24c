// Package registry keeps named groups of client ids in redis. Groups are
// sorted sets scored by a global join sequence, so List returns members in
// join order; every client has a reverse index of the groups it belongs to.
package registry

import (
	"context"
	"errors"
)

// ErrMembersChanged is returned by RemoveExact when at least one of the
// requested members was no longer in the group. Nothing is removed.
var ErrMembersChanged = errors.New("group members changed")

// Registry is the membership store shared by every instance.
type Registry interface {
	// Create makes a new empty group and returns its id.
	Create(ctx context.Context) (string, error)
	// Ensure registers a well-known group id; it is a no-op if it exists.
	Ensure(ctx context.Context, groupID string) error
	// List returns members ordered by join time.
	List(ctx context.Context, groupID string) ([]string, error)
	Push(ctx context.Context, groupID string, clientIDs ...string) error
	Remove(ctx context.Context, groupID string, clientIDs ...string) error
	// RemoveExact removes all clientIDs atomically, or none of them.
	RemoveExact(ctx context.Context, groupID string, clientIDs ...string) error
	Contains(ctx context.Context, groupID, clientID string) (bool, error)
	// Erase deletes the group and every member's reference to it.
	Erase(ctx context.Context, groupID string) error
	GroupsOf(ctx context.Context, clientID string) ([]string, error)
	// LeaveAll removes the client from every group and returns those groups.
	LeaveAll(ctx context.Context, clientID string) ([]string, error)
}
