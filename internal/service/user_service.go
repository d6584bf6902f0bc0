package service

import (
	"context"
	"fmt"

	"github.com/digkill/figureshop/internal/models"
	"github.com/digkill/figureshop/internal/repository"
)

// GuestEmail owns every anonymous purchase and admin-minted code.
const GuestEmail = "guest@example.com"

type UserService struct {
	users *repository.UserRepository
}

func NewUserService(users *repository.UserRepository) *UserService {
	return &UserService{users: users}
}

func (s *UserService) EnsureGuest(ctx context.Context) (*models.User, error) {
	return s.Ensure(ctx, GuestEmail)
}

func (s *UserService) Ensure(ctx context.Context, email string) (*models.User, error) {
	user, err := s.users.Ensure(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	return user, nil
}
