package local

import (
	"errors"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var errEmptyPassword = goerrors.New("password must not be empty", goerrors.CategoryValidation).
	WithCode(goerrors.CodeBadRequest)

// hashCost is lowered by tests.
var hashCost = passwordHashCost()

// HashPassword generates a bcrypt hash.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errEmptyPassword
	}

	h, err := bcrypt.GenerateFromPassword([]byte(password), hashCost)
	return string(h), err
}

// ComparePasswordAndHash validates password against hash.
func ComparePasswordAndHash(password, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrInvalidCredentials
		}
		return err
	}
	return nil
}

// RandomPasswordHash hashes a random value. Used to run a comparison for
// unknown accounts so timing does not reveal them.
func RandomPasswordHash() string {
	h, err := HashPassword(uuid.NewString())
	if err != nil {
		return RandomPasswordHash()
	}
	return h
}
