package store

import (
	"context"

	"github.com/MaxwellShipley/OS-zoom-app/internal/models"
)

// DataStore is the persistent account store behind the credential gateway.
// Both PostgresStore and SQLiteStore implement this interface. Lookups
// return (nil, nil) when no row matches.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Account operations. Usernames are stored normalized (trimmed,
	// lower-cased) by the gateway before they reach the store.
	CreateAccount(ctx context.Context, username, email, passwordHash string) (*models.Account, error)
	GetAccountByUsername(ctx context.Context, username string) (*models.Account, error)
	CountAccounts(ctx context.Context) (int64, error)
}
