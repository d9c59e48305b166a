// Package gateway is the credential gateway: account creation and password
// verification on top of the persistent account store. The relay core
// consumes it as an opaque verify/create capability.
package gateway

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/MaxwellShipley/OS-zoom-app/internal/store"
)

// MinPasswordLength is enforced before anything reaches the store.
const MinPasswordLength = 8

var (
	// ErrInvalidCredentials covers every verification failure: unknown
	// username, wrong password, empty fields. Callers must not reveal
	// which one it was.
	ErrInvalidCredentials = errors.New("gateway: invalid credentials")

	// ErrAccountExists reports a creation attempt against a taken
	// username. This is the one enumerating error the protocol allows.
	ErrAccountExists = errors.New("gateway: account already exists")

	// ErrInvalidAccount reports unusable account details on creation
	// (empty username, malformed email, short password).
	ErrInvalidAccount = errors.New("gateway: invalid account details")
)

// emailRegex validates email addresses per RFC 5322 (simplified).
var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// Gateway verifies and creates accounts.
type Gateway struct {
	store store.DataStore
	cost  int
}

func New(ds store.DataStore) *Gateway {
	return &Gateway{store: ds, cost: bcrypt.DefaultCost}
}

// NormalizeUsername trims and lower-cases a username. Comparison is
// case-insensitive throughout.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// Verify checks username/password and returns the user identity. The
// returned identity is the normalized username.
func (g *Gateway) Verify(ctx context.Context, username, password string) (string, error) {
	username = NormalizeUsername(username)
	if username == "" || password == "" {
		return "", ErrInvalidCredentials
	}

	acct, err := g.store.GetAccountByUsername(ctx, username)
	if err != nil {
		return "", err
	}
	if acct == nil {
		return "", ErrInvalidCredentials
	}

	if bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)) != nil {
		return "", ErrInvalidCredentials
	}
	return acct.Username, nil
}

// Create registers a new account and returns the user identity.
func (g *Gateway) Create(ctx context.Context, username, email, password string) (string, error) {
	username = NormalizeUsername(username)
	if username == "" {
		return "", ErrInvalidAccount
	}
	if !isValidEmail(email) {
		return "", ErrInvalidAccount
	}
	if len(password) < MinPasswordLength {
		return "", ErrInvalidAccount
	}

	existing, err := g.store.GetAccountByUsername(ctx, username)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return "", ErrAccountExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), g.cost)
	if err != nil {
		return "", err
	}

	acct, err := g.store.CreateAccount(ctx, username, strings.TrimSpace(email), string(hash))
	if err != nil {
		return "", err
	}
	return acct.Username, nil
}

// isValidEmail validates email addresses using RFC 5322 pattern.
func isValidEmail(email string) bool {
	if email == "" {
		return true // Empty is valid (optional field)
	}
	if len(email) > 254 {
		return false
	}
	return emailRegex.MatchString(email)
}
