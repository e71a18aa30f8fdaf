package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tetatet/internal/models"

	"github.com/c-pro/geche"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const DefaultTokenExpiry = 12 * time.Hour

var ErrInvalidCredentials = errors.New("invalid credentials")

// UserCredentials is a user record together with their password hash.
type UserCredentials struct {
	models.User
	PasswordHash string `json:"passwordHash"`
}

// Store is the durable credential store.
type Store interface {
	UpsertCredentials(credentials UserCredentials) error
	FindCredentialsByName(username string) (UserCredentials, error)
}

type Config struct {
	Secret      string        `json:"secret"`
	secretBytes []byte        `json:"-"`
	TokenExpiry time.Duration `json:"tokenExpiry"`
}

func (c *Config) Validate() error {
	if c.Secret == "" {
		return errors.New("secret is required")
	}

	var err error
	c.secretBytes, err = base64.StdEncoding.DecodeString(c.Secret)
	if err != nil {
		return fmt.Errorf("auth secret is not a valid base64: %w", err)
	}

	if c.TokenExpiry == 0 {
		c.TokenExpiry = DefaultTokenExpiry
	}

	return nil
}

// AuthService issues and resolves bearer tokens for the HTTP API. Live
// tokens are held keyed by their HMAC so the cache never contains a usable
// token value.
type AuthService struct {
	Config
	store      Store
	liveTokens geche.Geche[string, string]
	now        func() time.Time
}

func NewAuthService(ctx context.Context, config Config, store Store) (*AuthService, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &AuthService{
		Config:     config,
		store:      store,
		liveTokens: geche.NewMapTTLCache[string, string](ctx, config.TokenExpiry, time.Minute),
		now:        time.Now,
	}, nil
}

// AddUser creates a new active user with the given password.
func (as *AuthService) AddUser(username, displayName, password string) (models.User, error) {
	if _, err := as.store.FindCredentialsByName(username); err == nil {
		return models.User{}, models.ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, fmt.Errorf("failed to hash password: %w", err)
	}

	user := models.User{
		ID:          uuid.NewString(),
		UserName:    username,
		DisplayName: displayName,
		Status:      models.UserStatusActive,
	}
	if user.DisplayName == "" {
		user.DisplayName = username
	}

	if err := as.store.UpsertCredentials(UserCredentials{
		User:         user,
		PasswordHash: string(hash),
	}); err != nil {
		return models.User{}, err
	}

	return user, nil
}

// Login verifies the password and issues a fresh bearer token.
func (as *AuthService) Login(username, password string) (string, models.User, error) {
	creds, err := as.store.FindCredentialsByName(username)
	if err != nil {
		// Burn comparable time so a missing user is indistinguishable from a
		// wrong password.
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return "", models.User{}, ErrInvalidCredentials
	}

	if creds.Status != models.UserStatusActive {
		return "", models.User{}, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(creds.PasswordHash), []byte(password)); err != nil {
		return "", models.User{}, ErrInvalidCredentials
	}

	token, err := as.generateToken()
	if err != nil {
		slog.Error("login failed", "user_id", creds.ID, "error", err)
		return "", models.User{}, err
	}

	as.liveTokens.Set(as.hashToken(token), creds.ID)
	return token, creds.User, nil
}

// GetUserID resolves a live bearer token to its user.
func (as *AuthService) GetUserID(token string) (string, error) {
	return as.liveTokens.Get(as.hashToken(token))
}

func (as *AuthService) Logoff(token string) error {
	return as.liveTokens.Del(as.hashToken(token))
}

func (as *AuthService) generateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func (as *AuthService) hashToken(token string) string {
	h := hmac.New(sha256.New, as.secretBytes)
	h.Write([]byte(token))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

var dummyHash = func() []byte {
	h, _ := bcrypt.GenerateFromPassword([]byte("tetatet-dummy"), bcrypt.DefaultCost)
	return h
}()
