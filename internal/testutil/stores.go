// stores.go
//
// Shared mocks for the durable directory and outbound collaborators.
// Imported by test files across packages to avoid duplicate mock definitions.
package testutil

import (
	"context"
	"sync"

	"github.com/MGallo-Code/roomgate/internal/fanout"
	"github.com/MGallo-Code/roomgate/internal/store"
	"github.com/gofrs/uuid/v5"
)

// MockDirectory implements admission.Directory.
// Always stateful: Users and Rooms are sets, like the real tables.
// Use *Err fields to inject errors for specific operations.
type MockDirectory struct {
	// Error injection...zero value means no error
	CreateUserErr error
	UserExistsErr error
	RoomExistsErr error

	Users map[string]bool
	Rooms map[string]bool

	mu sync.Mutex
}

// NewMockDirectory returns a MockDirectory seeded with users and rooms.
func NewMockDirectory(users []string, rooms []string) *MockDirectory {
	d := &MockDirectory{Users: make(map[string]bool), Rooms: make(map[string]bool)}
	for _, u := range users {
		d.Users[u] = true
	}
	for _, r := range rooms {
		d.Rooms[r] = true
	}
	return d
}

func (d *MockDirectory) CreateUser(_ context.Context, username string) error {
	if d.CreateUserErr != nil {
		return d.CreateUserErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Users == nil {
		d.Users = make(map[string]bool)
	}
	if d.Users[username] {
		return store.ErrUserExists
	}
	d.Users[username] = true
	return nil
}

func (d *MockDirectory) UserExists(_ context.Context, username string) (bool, error) {
	if d.UserExistsErr != nil {
		return false, d.UserExistsErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Users[username], nil
}

func (d *MockDirectory) RoomExists(_ context.Context, roomID string) (bool, error) {
	if d.RoomExistsErr != nil {
		return false, d.RoomExistsErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Rooms[roomID], nil
}

// MockCaptcha implements admission.Captcha. Err is returned from every Verify.
type MockCaptcha struct {
	Err       error
	LastToken string
	LastIP    string
}

func (c *MockCaptcha) Verify(_ context.Context, token, remoteIP string) error {
	c.LastToken = token
	c.LastIP = remoteIP
	return c.Err
}

// MockReplies implements admission.Replies, recording every accepted job.
type MockReplies struct {
	Err  error
	Jobs []fanout.ReplyJob

	mu sync.Mutex
}

func (q *MockReplies) Enqueue(_ context.Context, job fanout.ReplyJob) (uuid.UUID, error) {
	if q.Err != nil {
		return uuid.Nil, q.Err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, err
	}
	job.ID = id
	q.mu.Lock()
	q.Jobs = append(q.Jobs, job)
	q.mu.Unlock()
	return id, nil
}
