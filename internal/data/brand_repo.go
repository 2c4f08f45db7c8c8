package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/craftfolio/mailroom/internal/domain/model"
)

// ErrBrandNotFound is returned when no matching brand exists.
var ErrBrandNotFound = errors.New("brand not found")

// BrandRepo reads sender branding and SMTP connection parameters. Sends
// resolve the brand per job, so credential rotation takes effect on the
// next attempt without a restart.
type BrandRepo struct {
	DB *sql.DB
}

// NewBrandRepo creates a new BrandRepo.
func NewBrandRepo(db *sql.DB) *BrandRepo {
	return &BrandRepo{DB: db}
}

// GetByID returns a brand by primary key, or ErrBrandNotFound.
func (r *BrandRepo) GetByID(ctx context.Context, id string) (*model.Brand, error) {
	brand := &model.Brand{}
	err := r.DB.QueryRowContext(ctx, `
		SELECT id, name, sender_name, sender_email,
		       smtp_host, smtp_port, smtp_username, smtp_password, smtp_use_tls
		FROM brands
		WHERE id = $1
	`, id).Scan(
		&brand.ID,
		&brand.Name,
		&brand.SenderName,
		&brand.SenderEmail,
		&brand.SMTPHost,
		&brand.SMTPPort,
		&brand.SMTPUsername,
		&brand.SMTPPassword,
		&brand.SMTPUseTLS,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBrandNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get brand: %w", err)
	}
	return brand, nil
}
