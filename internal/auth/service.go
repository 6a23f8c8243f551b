package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

const maxUsernameLen = 64

// Service implements registration, login and token authentication.
type Service struct {
	users  UserStore
	issuer *Issuer
	cost   int

	dummyOnce sync.Once
	dummyHash string
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithBcryptCost sets the hashing cost for new passwords.
func WithBcryptCost(cost int) ServiceOption {
	return func(s *Service) {
		if cost > 0 {
			s.cost = cost
		}
	}
}

// NewService wires the credential store and token issuer.
func NewService(users UserStore, issuer *Issuer, opts ...ServiceOption) *Service {
	s := &Service{users: users, issuer: issuer, cost: 10}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a user. The username is trimmed of surrounding whitespace
// and compared case-sensitively.
func (s *Service) Register(ctx context.Context, username, password string) (User, error) {
	username = strings.TrimSpace(username)
	if err := validateCredentials(username, password); err != nil {
		return User{}, err
	}
	hash, err := HashPassword(password, s.cost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	u := &User{Username: username, PasswordHash: hash}
	if err := s.users.Create(ctx, u); err != nil {
		return User{}, err
	}
	return User{ID: u.ID, Username: u.Username, CreatedAt: u.CreatedAt}, nil
}

// Login verifies credentials and issues a session token. Unknown users and
// wrong passwords both yield ErrUnauthorized.
func (s *Service) Login(ctx context.Context, username, password string) (Token, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return Token{}, fmt.Errorf("%w: username and password are required", ErrInvalidInput)
	}
	u, err := s.users.FindByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		// Spend the same bcrypt work as a real comparison.
		_ = VerifyPassword(s.placeholderHash(), password)
		return Token{}, ErrUnauthorized
	}
	if err != nil {
		return Token{}, err
	}
	if err := VerifyPassword(u.PasswordHash, password); err != nil {
		return Token{}, ErrUnauthorized
	}
	return s.issuer.Issue(Principal{UserID: u.ID, Username: u.Username})
}

// Authenticate validates a bearer token.
func (s *Service) Authenticate(_ context.Context, token string) (Principal, error) {
	return s.issuer.Verify(token)
}

func (s *Service) placeholderHash() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = HashPassword("placeholder-password", s.cost)
	})
	return s.dummyHash
}

func validateCredentials(username, password string) error {
	switch {
	case username == "" || password == "":
		return fmt.Errorf("%w: username and password are required", ErrInvalidInput)
	case len(username) > maxUsernameLen:
		return fmt.Errorf("%w: username longer than %d characters", ErrInvalidInput, maxUsernameLen)
	case len(password) > maxPasswordBytes:
		return fmt.Errorf("%w: password longer than %d bytes", ErrInvalidInput, maxPasswordBytes)
	}
	return nil
}
