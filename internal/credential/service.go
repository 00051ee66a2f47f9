package credential

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrMissingFields is returned when a required field is empty.
	ErrMissingFields = errors.New("all fields are required")
	// ErrInvalidCredentials is returned when login fails for any reason
	// attributable to the caller.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

const (
	// DefaultTokenTTL is how long issued tokens stay valid.
	DefaultTokenTTL = 24 * time.Hour
	// DefaultSecret is the signing secret used when none is configured.
	DefaultSecret = "secret"
)

// Config controls how the credential service stores users and signs
// tokens.
type Config struct {
	JWTSecret    string        `yaml:"jwt_secret"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
	DatabasePath string        `yaml:"database_path"`
	BcryptCost   int           `yaml:"bcrypt_cost"`
}

// Service registers users, checks passwords and validates tokens.
type Service struct {
	store  Store
	hasher *PasswordHasher
	tokens *TokenManager
}

// NewService assembles a Service from its parts.
func NewService(store Store, hasher *PasswordHasher, tokens *TokenManager) *Service {
	return &Service{store: store, hasher: hasher, tokens: tokens}
}

// Open builds a Service from cfg. When DatabasePath is empty or the
// database cannot be opened, users are kept in memory for the life of
// the process.
func Open(cfg Config) *Service {
	if cfg.JWTSecret == "" {
		log.Printf("JWT_SECRET not set; signing tokens with the default secret")
		cfg.JWTSecret = DefaultSecret
	}

	var store Store
	if cfg.DatabasePath != "" {
		gormStore, err := OpenSQLite(cfg.DatabasePath)
		if err != nil {
			log.Printf("User database unavailable, using in-memory storage: %v", err)
		} else {
			store = gormStore
		}
	}
	if store == nil {
		store = NewMemoryStore()
	}

	return NewService(store, NewPasswordHasher(cfg.BcryptCost), NewTokenManager(cfg.JWTSecret, cfg.TokenTTL))
}

// Close releases the store when it holds external resources.
func (s *Service) Close() error {
	if closer, ok := s.store.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// Register creates an account and returns it with a signed token.
func (s *Service) Register(ctx context.Context, username, email, password string) (*User, string, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" || email == "" || password == "" {
		return nil, "", ErrMissingFields
	}

	exists, err := s.store.Exists(ctx, username, email)
	if err != nil {
		return nil, "", fmt.Errorf("check existing user: %w", err)
	}
	if exists {
		return nil, "", ErrAlreadyExists
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, "", fmt.Errorf("hash password: %w", err)
	}

	now := time.Now()
	user := &User{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Create(ctx, user); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return nil, "", err
		}
		return nil, "", fmt.Errorf("create user: %w", err)
	}

	token, err := s.tokens.Issue(user)
	if err != nil {
		return nil, "", fmt.Errorf("issue token: %w", err)
	}
	return user, token, nil
}

// Login checks username and password and returns the user with a fresh
// token. Unknown users and wrong passwords both yield
// ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, username, password string) (*User, string, error) {
	user, err := s.store.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", fmt.Errorf("find user: %w", err)
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		return nil, "", ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(user)
	if err != nil {
		return nil, "", fmt.Errorf("issue token: %w", err)
	}
	return user, token, nil
}

// Authenticate validates a bearer token.
func (s *Service) Authenticate(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	return s.tokens.Validate(token)
}
