package model

import "strings"

// Recipient is the lookup shape the pipeline needs from the entity store:
// existence plus an optional email address. The store's own CRUD surface is
// out of scope.
type Recipient struct {
	ID        string        `json:"id"`
	Kind      RecipientKind `json:"kind"`
	Email     *string       `json:"email,omitempty"`
	IsDeleted bool          `json:"is_deleted"`
}

// EmailAddress returns the recipient address normalized for delivery, or
// empty when none is on file.
func (r *Recipient) EmailAddress() string {
	if r == nil || r.Email == nil {
		return ""
	}
	return NormalizeEmail(*r.Email)
}

// NormalizeEmail lowercases and trims an address. All lookups and all stored
// recipients go through this so webhook matching is case-insensitive.
func NormalizeEmail(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// Brand is the branding configuration a send resolves at call time. SMTP
// connection parameters are per-brand, not global.
type Brand struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	SenderName   string `json:"sender_name"`
	SenderEmail  string `json:"sender_email"`
	SMTPHost     string `json:"smtp_host"`
	SMTPPort     int    `json:"smtp_port"`
	SMTPUsername string `json:"smtp_username"`
	SMTPPassword string `json:"-"`
	SMTPUseTLS   bool   `json:"smtp_use_tls"`
}

// Sender returns the RFC 5322 From value for this brand.
func (b *Brand) Sender() string {
	if b.SenderName == "" {
		return b.SenderEmail
	}
	return b.SenderName + " <" + b.SenderEmail + ">"
}
