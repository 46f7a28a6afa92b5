// internal/membership/implementation.go
package membership

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"golang.org/x/time/rate"

	"readhub/internal/apperrors"
	"readhub/internal/config"
	"readhub/internal/eventstore"
	"readhub/internal/observability"
	"readhub/internal/store"
)

const aggregateType = "user"

const (
	RedirectAdmin   = "admin-dashboard.html"
	RedirectUser    = "user-dashboard.html"
	RedirectSignOut = "index.html"
)

// service implements the Service interface.
type service struct {
	eventStore *eventstore.EventStore
	repo       *Repository
	sessions   SessionStore
	security   config.SecurityConfig
	limiters   *loginLimiters
	now        func() time.Time
}

// NewService creates a new membership service instance.
func NewService(es *eventstore.EventStore, repo *Repository, sessions SessionStore, security config.SecurityConfig) Service {
	return &service{
		eventStore: es,
		repo:       repo,
		sessions:   sessions,
		security:   security,
		limiters:   newLoginLimiters(security.MaxLoginAttempts),
		now:        time.Now,
	}
}

// loginLimiters keeps one token bucket per email.
type loginLimiters struct {
	mu       sync.Mutex
	perEmail map[string]*rate.Limiter
	attempts int
}

func newLoginLimiters(attemptsPerMinute int) *loginLimiters {
	if attemptsPerMinute <= 0 {
		attemptsPerMinute = 5
	}
	return &loginLimiters{
		perEmail: make(map[string]*rate.Limiter),
		attempts: attemptsPerMinute,
	}
}

func (l *loginLimiters) allow(email string) bool {
	l.mu.Lock()
	lim, ok := l.perEmail[email]
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.attempts)), l.attempts)
		l.perEmail[email] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// Register creates a self-service account. Accounts are active immediately.
func (s *service) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	req.Email = normalizeEmail(req.Email)
	req.FullName = strings.TrimSpace(req.FullName)
	if err := validateRegister(req, s.security.PasswordMinLength); err != nil {
		return nil, err
	}

	user := &User{
		ID:         uuid.New(),
		Email:      req.Email,
		FullName:   req.FullName,
		Role:       req.UserType,
		Status:     StatusActive,
		JoinedDate: s.now().UTC(),
		Version:    1,
	}
	cred, err := newCredential(user.ID, req.Password)
	if err != nil {
		return nil, err
	}

	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.repo.insertUser(ctx, tx, user); err != nil {
			return err
		}
		if err := s.repo.insertCredential(ctx, tx, cred); err != nil {
			return err
		}
		return s.appendEvent(ctx, tx, user.ID, 0, "UserRegistered", UserRegisteredEvent{
			ID:    user.ID,
			Email: user.Email,
			Role:  user.Role,
		}, user.ID.String())
	})
	if err != nil {
		if store.IsUniqueViolation(err) {
			return nil, apperrors.NewAuthError(apperrors.CodeEmailInUse)
		}
		return nil, fmt.Errorf("failed to register user: %w", err)
	}
	return user, nil
}

// SignIn checks the credentials and opens a session.
func (s *service) SignIn(ctx context.Context, req SignInRequest) (*SignInResult, error) {
	req.Email = normalizeEmail(req.Email)
	if err := validateSignIn(req); err != nil {
		return nil, err
	}
	if !s.limiters.allow(req.Email) {
		return nil, apperrors.NewAuthError(apperrors.CodeTooManyRequests)
	}

	user, err := s.repo.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrorTypeNotFound) {
			return nil, apperrors.NewAuthError(apperrors.CodeUserNotFound)
		}
		return nil, err
	}

	cred, err := s.repo.GetCredential(ctx, user.ID)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrorTypeNotFound) {
			return nil, apperrors.NewAuthError(apperrors.CodeWrongPassword)
		}
		return nil, err
	}
	ok, err := verifyPassword(req.Password, cred)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		return nil, apperrors.NewAuthError(apperrors.CodeWrongPassword)
	}

	if user.Role != req.UserType {
		return nil, apperrors.NewAuthError(apperrors.CodeInvalidAccountType)
	}
	switch user.Status {
	case StatusDisabled:
		return nil, apperrors.NewAuthError(apperrors.CodeUserDisabled)
	case StatusPending:
		return nil, apperrors.NewAuthError(apperrors.CodeAccountPending)
	}

	token, err := newSessionToken()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	sess := &Session{
		Token:       token,
		UserID:      user.ID,
		Email:       user.Email,
		Role:        user.Role,
		DisplayName: user.FullName,
		LoginTime:   now,
		RememberMe:  req.RememberMe,
	}
	if err := s.sessions.Create(ctx, sess, s.sessionTTL(req.RememberMe)); err != nil {
		return nil, apperrors.NewExternalError("failed to create session", err)
	}

	if err := s.repo.touchLastLogin(ctx, user.ID, now); err != nil {
		observability.LoggerFromContext(ctx).Warn().Err(err).Str("user_id", user.ID.String()).Msg("failed to record last login")
	}

	redirect := RedirectUser
	if user.Role == RoleAdmin {
		redirect = RedirectAdmin
	}
	return &SignInResult{Session: sess, Redirect: redirect}, nil
}

func (s *service) sessionTTL(rememberMe bool) time.Duration {
	if rememberMe {
		return time.Duration(s.security.RememberMeDays) * 24 * time.Hour
	}
	return time.Duration(s.security.SessionTimeoutMinutes) * time.Minute
}

// SignOut ends the session and returns where the client goes next.
func (s *service) SignOut(ctx context.Context, token string) (string, error) {
	if err := s.sessions.Delete(ctx, token); err != nil {
		return "", apperrors.NewExternalError("failed to end session", err)
	}
	return RedirectSignOut, nil
}

// GetUser returns a user with its member profile, if any.
func (s *service) GetUser(ctx context.Context, id uuid.UUID) (*UserWithMember, error) {
	user, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	out := &UserWithMember{User: *user}
	member, err := s.repo.GetMemberByUserID(ctx, id)
	switch {
	case err == nil:
		out.Member = member
	case !apperrors.Is(err, apperrors.ErrorTypeNotFound):
		return nil, err
	}
	return out, nil
}

// ListUsers returns users matching filter joined with their profiles.
func (s *service) ListUsers(ctx context.Context, filter UserFilter) ([]*UserWithMember, error) {
	users, err := s.repo.ListUsers(ctx, filter)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(users))
	for i, u := range users {
		ids[i] = u.ID.String()
	}
	members, err := s.repo.GetMembersByUserIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byUser := make(map[uuid.UUID]*Member, len(members))
	for _, m := range members {
		byUser[m.UserID] = m
	}

	out := make([]*UserWithMember, len(users))
	for i, u := range users {
		out[i] = &UserWithMember{User: *u, Member: byUser[u.ID]}
	}
	return out, nil
}

// AddUser creates an account, its credential and its member profile together.
func (s *service) AddUser(ctx context.Context, req AddUserRequest, actor string) (*UserWithMember, error) {
	req.Email = normalizeEmail(req.Email)
	req.FullName = strings.TrimSpace(req.FullName)
	if err := validateAddUser(req, s.security.PasswordMinLength); err != nil {
		return nil, err
	}
	if req.Status == "" {
		req.Status = StatusActive
	}

	now := s.now().UTC()
	user := &User{
		ID:         uuid.New(),
		Email:      req.Email,
		FullName:   req.FullName,
		Role:       RoleUser,
		Status:     req.Status,
		JoinedDate: now,
		Version:    1,
	}
	cred, err := newCredential(user.ID, req.Password)
	if err != nil {
		return nil, err
	}
	member, err := newMember(user.ID, req.ProfileInput, actor, now)
	if err != nil {
		return nil, err
	}

	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.repo.insertUser(ctx, tx, user); err != nil {
			return err
		}
		if err := s.repo.insertCredential(ctx, tx, cred); err != nil {
			return err
		}
		if err := s.repo.insertMember(ctx, tx, member); err != nil {
			return err
		}
		return s.appendEvent(ctx, tx, user.ID, 0, "UserRegistered", UserRegisteredEvent{
			ID:    user.ID,
			Email: user.Email,
			Role:  user.Role,
		}, actor)
	})
	if err != nil {
		if store.IsUniqueViolation(err) {
			return nil, apperrors.NewAuthError(apperrors.CodeEmailInUse)
		}
		return nil, fmt.Errorf("failed to add user: %w", err)
	}
	return &UserWithMember{User: *user, Member: member}, nil
}

// UpdateUser edits the account and then its member profile.
func (s *service) UpdateUser(ctx context.Context, id uuid.UUID, req UpdateUserRequest, actor string) (*UserWithMember, error) {
	req.FullName = strings.TrimSpace(req.FullName)
	if err := validateUpdateUser(req); err != nil {
		return nil, err
	}

	user, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	expected := user.Version
	user.FullName = req.FullName
	if req.Status != "" {
		user.Status = req.Status
	}
	user.Version = expected + 1

	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.repo.updateUser(ctx, tx, user, expected); err != nil {
			return err
		}
		if _, err := s.repo.updateMember(ctx, tx, id, req.ProfileInput, actor, s.now().UTC()); err != nil {
			return err
		}
		return s.appendEvent(ctx, tx, id, expected, "UserUpdated", UserUpdatedEvent{
			ID:       id,
			FullName: user.FullName,
			Status:   user.Status,
		}, actor)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	return s.GetUser(ctx, id)
}

// ApproveUser activates a pending account.
func (s *service) ApproveUser(ctx context.Context, id uuid.UUID, actor string) (*User, error) {
	user, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if user.Status == StatusActive {
		return user, nil
	}

	expected := user.Version
	now := s.now().UTC()
	user.Status = StatusActive
	user.ApprovedDate = &now
	user.ApprovedBy = actor
	user.Version = expected + 1

	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.repo.updateUser(ctx, tx, user, expected); err != nil {
			return err
		}
		return s.appendEvent(ctx, tx, id, expected, "UserApproved", UserApprovedEvent{ID: id, ApprovedBy: actor}, actor)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to approve user: %w", err)
	}
	return user, nil
}

// DeleteUser removes the member profile and then the account. Accounts with
// borrowing history are kept.
func (s *service) DeleteUser(ctx context.Context, id uuid.UUID, actor string) error {
	user, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return err
	}

	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.appendEvent(ctx, tx, id, user.Version, "UserDeleted", UserDeletedEvent{ID: id, Email: user.Email}, actor); err != nil {
			return err
		}
		if err := s.repo.deleteMember(ctx, tx, id); err != nil {
			return err
		}
		return s.repo.deleteUser(ctx, tx, id)
	})
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return apperrors.NewConflictError("user has borrowing history and cannot be deleted")
		}
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return nil
}

func (s *service) appendEvent(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, expected int, eventType string, data interface{}, actor string) error {
	event, err := eventstore.NewEvent(eventType, data, actor)
	if err != nil {
		return err
	}
	return s.eventStore.AppendEventsTx(ctx, tx, id, aggregateType, expected, []eventstore.Event{event})
}

func (s *service) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.repo.DB().BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		if errors.Is(err, eventstore.ErrConcurrencyConflict) {
			return apperrors.NewConflictError("user was modified by someone else, reload and try again")
		}
		return err
	}
	return tx.Commit()
}
