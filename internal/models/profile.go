package models

import "time"

// Profile is the traveler's account as seen by this service. Balance is the
// point balance; it is never persisted negative.
type Profile struct {
	IdentityID string    `json:"identity_id" db:"identity_id"`
	Balance    float64   `json:"balance" db:"balance"`
	Plan       string    `json:"plan" db:"plan"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// TransactionLog is one append-only ledger entry, written atomically with the
// transaction it describes.
type TransactionLog struct {
	ID         string    `json:"id" db:"id"`
	IdentityID string    `json:"identity_id" db:"identity_id"`
	Message    string    `json:"message" db:"message"`
	Value      float64   `json:"value" db:"value"`
	Meta       JSONMap   `json:"meta,omitempty" db:"meta"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
