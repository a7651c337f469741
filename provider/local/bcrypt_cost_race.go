//go:build race

package local

import "golang.org/x/crypto/bcrypt"

func passwordHashCost() int {
	return bcrypt.DefaultCost
}
