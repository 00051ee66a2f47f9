package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// ErrUserNotFound is returned when no user matches a lookup.
	ErrUserNotFound = errors.New("user not found")
	// ErrAlreadyExists is returned when the username or email is taken.
	ErrAlreadyExists = errors.New("username or email already taken")
)

// Store persists users.
type Store interface {
	// Create inserts user, failing with ErrAlreadyExists when the
	// username or email is taken.
	Create(ctx context.Context, user *User) error
	// FindByUsername returns the user named username or ErrUserNotFound.
	FindByUsername(ctx context.Context, username string) (*User, error)
	// Exists reports whether username or email is already registered.
	Exists(ctx context.Context, username, email string) (bool, error)
}

// MemoryStore keeps users in process memory. It is used when no
// database is configured or the database cannot be opened.
type MemoryStore struct {
	mu    sync.RWMutex
	users []*User
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.existsLocked(user.Username, user.Email) {
		return ErrAlreadyExists
	}
	stored := *user
	s.users = append(s.users, &stored)
	return nil
}

// FindByUsername implements Store.
func (s *MemoryStore) FindByUsername(_ context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Username == username {
			found := *u
			return &found, nil
		}
	}
	return nil, ErrUserNotFound
}

// Exists implements Store.
func (s *MemoryStore) Exists(_ context.Context, username, email string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.existsLocked(username, email), nil
}

func (s *MemoryStore) existsLocked(username, email string) bool {
	for _, u := range s.users {
		if u.Username == username || u.Email == email {
			return true
		}
	}
	return false
}

// GormStore keeps users in a SQL database through GORM.
type GormStore struct {
	db *gorm.DB
}

// OpenSQLite opens (creating if needed) the SQLite database at path and
// migrates the users table.
func OpenSQLite(path string) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	return NewGormStore(db)
}

// NewGormStore wraps db and migrates the users table.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&User{}); err != nil {
		return nil, fmt.Errorf("migrate users: %w", err)
	}
	return &GormStore{db: db}, nil
}

// Create implements Store.
func (s *GormStore) Create(ctx context.Context, user *User) error {
	result := s.db.WithContext(ctx).Create(user)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) || isUniqueViolation(result.Error) {
			return ErrAlreadyExists
		}
		return result.Error
	}
	return nil
}

// FindByUsername implements Store.
func (s *GormStore) FindByUsername(ctx context.Context, username string) (*User, error) {
	var user User
	result := s.db.WithContext(ctx).First(&user, "username = ?", username)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, result.Error
	}
	return &user, nil
}

// Exists implements Store.
func (s *GormStore) Exists(ctx context.Context, username, email string) (bool, error) {
	var count int64
	result := s.db.WithContext(ctx).Model(&User{}).
		Where("username = ? OR email = ?", username, email).
		Count(&count)
	if result.Error != nil {
		return false, result.Error
	}
	return count > 0, nil
}

// Close releases the underlying database handle.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// isUniqueViolation covers drivers that do not translate constraint
// errors into gorm.ErrDuplicatedKey.
func isUniqueViolation(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
