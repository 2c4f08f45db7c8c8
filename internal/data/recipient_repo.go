package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/craftfolio/mailroom/internal/domain/model"
)

// ErrRecipientNotFound is returned when no matching recipient exists.
var ErrRecipientNotFound = errors.New("recipient not found")

// RecipientRepo resolves notification recipients against the users and
// admins tables. The dispatcher only needs existence and an email address,
// so lookups project just those columns.
type RecipientRepo struct {
	DB *sql.DB
}

// NewRecipientRepo creates a new RecipientRepo.
func NewRecipientRepo(db *sql.DB) *RecipientRepo {
	return &RecipientRepo{DB: db}
}

// Lookup returns the recipient for (kind, id), or ErrRecipientNotFound.
// Soft-deleted rows are treated as absent.
func (r *RecipientRepo) Lookup(
	ctx context.Context,
	kind model.RecipientKind,
	id string,
) (*model.Recipient, error) {
	var table string
	switch kind {
	case model.RecipientKindUser:
		table = "users"
	case model.RecipientKindAdmin:
		table = "admins"
	default:
		return nil, fmt.Errorf("unknown recipient kind: %s", kind)
	}

	// table comes from the closed switch above, never from input.
	//nolint:gosec // table name is compile-time constant
	query := fmt.Sprintf(`
		SELECT id, email, is_deleted
		FROM %s
		WHERE id = $1 AND NOT is_deleted
	`, table)

	recipient := &model.Recipient{Kind: kind}
	var email sql.NullString
	err := r.DB.QueryRowContext(ctx, query, id).Scan(&recipient.ID, &email, &recipient.IsDeleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecipientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup recipient: %w", err)
	}

	recipient.Email = cloneNullableString(email)
	return recipient, nil
}
