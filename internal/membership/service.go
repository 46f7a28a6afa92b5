// internal/membership/service.go
package membership

import (
	"context"

	"github.com/google/uuid"
)

// Service defines the interface for the membership service.
type Service interface {
	Register(ctx context.Context, req RegisterRequest) (*User, error)
	SignIn(ctx context.Context, req SignInRequest) (*SignInResult, error)
	SignOut(ctx context.Context, token string) (string, error)

	GetUser(ctx context.Context, id uuid.UUID) (*UserWithMember, error)
	ListUsers(ctx context.Context, filter UserFilter) ([]*UserWithMember, error)
	AddUser(ctx context.Context, req AddUserRequest, actor string) (*UserWithMember, error)
	UpdateUser(ctx context.Context, id uuid.UUID, req UpdateUserRequest, actor string) (*UserWithMember, error)
	ApproveUser(ctx context.Context, id uuid.UUID, actor string) (*User, error)
	DeleteUser(ctx context.Context, id uuid.UUID, actor string) error
}
