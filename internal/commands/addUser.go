package commands

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"tetatet/internal/auth"
	"tetatet/internal/config"
	"tetatet/internal/content"
	"tetatet/internal/models"
	"tetatet/internal/storage"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// AddUser creates a user directly in the database with a generated password
// and prints the credentials. Used for bootstrapping the first accounts.
func AddUser(username string, cfg *config.Config) error {
	if err := content.ValidateUsername(username); err != nil {
		return err
	}

	store, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if _, err := store.FindCredentialsByName(username); err == nil {
		return models.ErrUserExists
	} else if !errors.Is(err, models.ErrNotFound) {
		return err
	}

	password, err := generatePassword()
	if err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	creds := auth.UserCredentials{
		User: models.User{
			ID:          uuid.NewString(),
			UserName:    username,
			DisplayName: username,
			Status:      models.UserStatusActive,
		},
		PasswordHash: string(hash),
	}
	if err := store.UpsertCredentials(creds); err != nil {
		return err
	}

	fmt.Printf("\nUser Created Successfully!\n")
	fmt.Printf("Username: %s\n", username)
	fmt.Printf("Password: %s\n\n", password)
	fmt.Println("Please share these credentials with the user and ask them to change the password.")
	return nil
}

func generatePassword() (string, error) {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
