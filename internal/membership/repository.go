// internal/membership/repository.go
package membership

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"readhub/internal/apperrors"
)

const (
	usersTable       = "users"
	credentialsTable = "credentials"
	membersTable     = "members"
)

var userColumns = []interface{}{
	"id", "email", "full_name", "role", "status", "joined_date", "last_login",
	"approved_date", "approved_by", "version",
}

var memberColumns = []interface{}{
	"id", "user_id", "phone", "student_id", "department", "year", "address",
	"emergency_contact", "gender", "date_of_birth", "membership_type",
	"membership_status", "library_card_number", "academic_year", "semester",
	"enrollment_date", "notes", "preferences", "contact_methods", "created_by",
	"created_at", "updated_at", "updated_by",
}

// UserFilter narrows admin user listings. Empty fields match everything.
type UserFilter struct {
	Role   string
	Status string
}

// Repository reads and writes users, credentials and member profiles.
type Repository struct {
	db   *sqlx.DB
	goqu *goqu.Database
}

// NewRepository creates a membership repository over db.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{
		db:   db,
		goqu: goqu.New("postgres", db),
	}
}

// DB exposes the underlying handle for callers that open transactions.
func (r *Repository) DB() *sqlx.DB {
	return r.db
}

func (r *Repository) insertUser(ctx context.Context, tx *sqlx.Tx, u *User) error {
	query, args, err := r.goqu.Insert(usersTable).Prepared(true).Rows(goqu.Record{
		"id":          u.ID,
		"email":       u.Email,
		"full_name":   u.FullName,
		"role":        u.Role,
		"status":      u.Status,
		"joined_date": u.JoinedDate,
		"version":     u.Version,
	}).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build insert query", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (r *Repository) insertCredential(ctx context.Context, tx *sqlx.Tx, c *Credential) error {
	query, args, err := r.goqu.Insert(credentialsTable).Prepared(true).Rows(goqu.Record{
		"user_id":       c.UserID,
		"password_hash": c.PasswordHash,
		"salt":          c.Salt,
	}).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build insert query", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert credential: %w", err)
	}
	return nil
}

// insertMember writes m. m.EnrollmentDate must be set.
func (r *Repository) insertMember(ctx context.Context, tx *sqlx.Tx, m *Member) error {
	query, args, err := r.goqu.Insert(membersTable).Prepared(true).Rows(goqu.Record{
		"id":                  m.ID,
		"user_id":             m.UserID,
		"phone":               m.Phone,
		"student_id":          m.StudentID,
		"department":          m.Department,
		"year":                m.Year,
		"address":             m.Address,
		"emergency_contact":   m.EmergencyContact,
		"gender":              m.Gender,
		"date_of_birth":       m.DateOfBirth,
		"membership_type":     m.MembershipType,
		"membership_status":   m.MembershipStatus,
		"library_card_number": m.LibraryCardNumber,
		"academic_year":       m.AcademicYear,
		"semester":            m.Semester,
		"enrollment_date":     *m.EnrollmentDate,
		"notes":               m.Notes,
		"preferences":         m.Preferences,
		"contact_methods":     m.ContactMethods,
		"created_by":          m.CreatedBy,
		"created_at":          m.CreatedAt,
	}).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build insert query", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert member: %w", err)
	}
	return nil
}

// GetUser returns one user or a not-found error.
func (r *Repository) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return r.getUserWhere(ctx, goqu.Ex{"id": id}, fmt.Sprintf("user with ID %s not found", id))
}

// GetUserByEmail looks a user up by normalized email.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return r.getUserWhere(ctx, goqu.Ex{"email": email}, "user not found")
}

func (r *Repository) getUserWhere(ctx context.Context, where goqu.Ex, notFound string) (*User, error) {
	query, args, err := r.goqu.From(usersTable).Prepared(true).
		Select(userColumns...).
		Where(where).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	u := &User{}
	if err := r.db.GetContext(ctx, u, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFoundError(notFound)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// GetCredential returns the password hash of userID.
func (r *Repository) GetCredential(ctx context.Context, userID uuid.UUID) (*Credential, error) {
	query, args, err := r.goqu.From(credentialsTable).Prepared(true).
		Select("user_id", "password_hash", "salt").
		Where(goqu.Ex{"user_id": userID}).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	c := &Credential{}
	if err := r.db.GetContext(ctx, c, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("credential not found")
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return c, nil
}

// ListUsers returns users matching filter, newest first.
func (r *Repository) ListUsers(ctx context.Context, filter UserFilter) ([]*User, error) {
	ds := r.goqu.From(usersTable).Prepared(true).Select(userColumns...)
	if filter.Role != "" {
		ds = ds.Where(goqu.Ex{"role": filter.Role})
	}
	if filter.Status != "" {
		ds = ds.Where(goqu.Ex{"status": filter.Status})
	}
	query, args, err := ds.Order(goqu.I("joined_date").Desc()).ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build list query", err)
	}

	var users []*User
	if err := r.db.SelectContext(ctx, &users, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// ListMembers returns every member profile.
func (r *Repository) ListMembers(ctx context.Context) ([]*Member, error) {
	query, args, err := r.goqu.From(membersTable).Prepared(true).
		Select(memberColumns...).
		Order(goqu.I("created_at").Desc()).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build list query", err)
	}

	var members []*Member
	if err := r.db.SelectContext(ctx, &members, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	return members, nil
}

// GetMemberByUserID returns the profile attached to userID.
func (r *Repository) GetMemberByUserID(ctx context.Context, userID uuid.UUID) (*Member, error) {
	query, args, err := r.goqu.From(membersTable).Prepared(true).
		Select(memberColumns...).
		Where(goqu.Ex{"user_id": userID}).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	m := &Member{}
	if err := r.db.GetContext(ctx, m, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("member profile for user %s not found", userID))
		}
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return m, nil
}

// GetMembersByUserIDs returns the profiles of the given users in one query.
// Users without a profile are skipped.
func (r *Repository) GetMembersByUserIDs(ctx context.Context, userIDs []string) ([]*Member, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	query, args, err := r.goqu.From(membersTable).Prepared(true).
		Select(memberColumns...).
		Where(goqu.C("user_id").In(userIDs)).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	var members []*Member
	if err := r.db.SelectContext(ctx, &members, query, args...); err != nil {
		return nil, fmt.Errorf("failed to load members: %w", err)
	}
	return members, nil
}

// updateUser writes u only if the stored row is still at expectedVersion.
func (r *Repository) updateUser(ctx context.Context, tx *sqlx.Tx, u *User, expectedVersion int) error {
	rec := goqu.Record{
		"full_name":   u.FullName,
		"status":      u.Status,
		"approved_by": u.ApprovedBy,
		"version":     u.Version,
	}
	if u.ApprovedDate != nil {
		rec["approved_date"] = *u.ApprovedDate
	}
	query, args, err := r.goqu.Update(usersTable).Prepared(true).
		Set(rec).
		Where(goqu.Ex{"id": u.ID, "version": expectedVersion}).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build update query", err)
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewConflictError("user was modified by someone else, reload and try again")
	}
	return nil
}

// updateMember rewrites the editable profile fields of userID's member.
// It reports whether a profile existed.
func (r *Repository) updateMember(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, in ProfileInput, actor string, now time.Time) (bool, error) {
	query, args, err := r.goqu.Update(membersTable).Prepared(true).
		Set(goqu.Record{
			"phone":             in.Phone,
			"student_id":        in.StudentID,
			"department":        in.Department,
			"year":              in.Year,
			"academic_year":     in.Year,
			"address":           in.Address,
			"emergency_contact": in.EmergencyContact,
			"gender":            in.Gender,
			"date_of_birth":     in.DateOfBirth,
			"notes":             in.Notes,
			"updated_at":        now,
			"updated_by":        actor,
		}).
		Where(goqu.Ex{"user_id": userID}).
		ToSQL()
	if err != nil {
		return false, apperrors.NewInternalError("failed to build update query", err)
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update member: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *Repository) deleteMember(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) error {
	query, args, err := r.goqu.Delete(membersTable).Prepared(true).
		Where(goqu.Ex{"user_id": userID}).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build delete query", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete member: %w", err)
	}
	return nil
}

func (r *Repository) deleteUser(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) error {
	query, args, err := r.goqu.Delete(usersTable).Prepared(true).
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build delete query", err)
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewNotFoundError(fmt.Sprintf("user with ID %s not found", id))
	}
	return nil
}

func (r *Repository) touchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	query, args, err := r.goqu.Update(usersTable).Prepared(true).
		Set(goqu.Record{"last_login": at}).
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build update query", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to record last login: %w", err)
	}
	return nil
}

// GetUsersByIDs returns the users whose ids appear in ids in one query.
// Unknown ids are skipped.
func (r *Repository) GetUsersByIDs(ctx context.Context, ids []string) ([]*User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := r.goqu.From(usersTable).Prepared(true).
		Select(userColumns...).
		Where(goqu.C("id").In(ids)).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	var users []*User
	if err := r.db.SelectContext(ctx, &users, query, args...); err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}
	return users, nil
}
