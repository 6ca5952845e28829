package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLen is the shortest admin password accepted.
const MinPasswordLen = 8

// Admins handles admin creation and password login.
type Admins struct {
	store Store
}

// NewAdmins creates the admin service.
func NewAdmins(store Store) *Admins {
	return &Admins{store: store}
}

// Create hashes password and stores a new admin.
func (a *Admins) Create(ctx context.Context, username, firstname, lastname, password string) (*Admin, error) {
	var problems []string
	for _, f := range [][2]string{{"username", username}, {"firstname", firstname}, {"lastname", lastname}} {
		if strings.TrimSpace(f[1]) == "" {
			problems = append(problems, f[0]+" cannot be empty")
		}
	}
	if len(password) < MinPasswordLen {
		problems = append(problems, fmt.Sprintf("password should be at least %d characters", MinPasswordLen))
	}
	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	admin := &Admin{
		Username:     strings.TrimSpace(username),
		Firstname:    strings.TrimSpace(firstname),
		Lastname:     strings.TrimSpace(lastname),
		PasswordHash: string(hash),
	}
	if err := a.store.CreateAdmin(ctx, admin); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, fmt.Errorf("username %q is taken: %w", admin.Username, ErrConflict)
		}
		return nil, storageErr("create admin", err)
	}
	return admin, nil
}

// Login checks the password for username.
func (a *Admins) Login(ctx context.Context, username, password string) (*Admin, error) {
	admin, err := a.store.AdminByUsername(ctx, username)
	if err != nil {
		return nil, storageErr("get admin", err)
	}
	if admin == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return admin, nil
}

// Get loads an admin by id; (nil, nil) when the id is unknown.
func (a *Admins) Get(ctx context.Context, id string) (*Admin, error) {
	admin, err := a.store.AdminByID(ctx, id)
	return admin, storageErr("get admin", err)
}
