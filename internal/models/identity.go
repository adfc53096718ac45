package models

// Identity is the authenticated user a vault belongs to, as asserted by the
// identity provider.
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}
