package models

// Identity is a credential record owned by the local identity provider. It
// never leaves the service.
type Identity struct {
	UID          string `db:"uid"`
	Email        string `db:"email"`
	DisplayName  string `db:"display_name"`
	PasswordHash string `db:"password_hash"`
	Disabled     bool   `db:"disabled"`
	Created      int64  `db:"created"`
	Updated      int64  `db:"updated"`
}

// PayloadSchema is a stored JSON Schema used to validate request envelopes.
type PayloadSchema struct {
	ID          int64  `db:"id"`
	Name        string `db:"name"`
	Version     string `db:"version"`
	Description string `db:"description"`
	SchemaJSON  string `db:"schema_json"`
	Created     int64  `db:"created"`
	Updated     int64  `db:"updated"`
}
