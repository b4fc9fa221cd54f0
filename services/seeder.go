package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/krshsl/interview-engine/models"
	"github.com/krshsl/interview-engine/repository"
	"golang.org/x/crypto/bcrypt"
)

// demoCredits is the balance granted to seeded users.
const demoCredits = 3

// DatabaseSeeder handles database seeding operations
type DatabaseSeeder struct {
	repo   *repository.GORMRepository
	ledger *CreditLedger
}

// NewDatabaseSeeder creates a new database seeder
func NewDatabaseSeeder(repo *repository.GORMRepository, ledger *CreditLedger) *DatabaseSeeder {
	return &DatabaseSeeder{repo: repo, ledger: ledger}
}

// SeedDatabase loads the package catalogue and demo users (idempotent)
func (s *DatabaseSeeder) SeedDatabase(ctx context.Context) error {
	if err := s.SeedPackages(ctx); err != nil {
		return err
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	// Test users only, no admin users
	users := []models.User{
		{
			Email:    "test@example.com",
			Password: string(hashedPassword),
			FullName: "Test User",
			Role:     "user",
			IsActive: true,
		},
		{
			Email:    "demo@example.com",
			Password: string(hashedPassword),
			FullName: "Demo User",
			Role:     "user",
			IsActive: true,
		},
	}

	for _, user := range users {
		if err := s.seedUser(ctx, user); err != nil {
			slog.Error("Failed to seed user", "email", user.Email, "error", err)
		}
	}

	slog.Info("Database seeding completed successfully")
	return nil
}

// SeedPackages upserts the built-in catalogue so price edits ship with the binary.
func (s *DatabaseSeeder) SeedPackages(ctx context.Context) error {
	packages, err := DefaultCatalog()
	if err != nil {
		return err
	}
	for i := range packages {
		if err := s.repo.UpsertPackage(ctx, &packages[i]); err != nil {
			return fmt.Errorf("failed to seed package %s: %w", packages[i].ID, err)
		}
	}
	slog.Info("Seeded credit packages", "count", len(packages))
	return nil
}

// seedUser seeds a single user (idempotent)
func (s *DatabaseSeeder) seedUser(ctx context.Context, user models.User) error {
	existingUser, err := s.repo.GetUserByEmail(ctx, user.Email)
	if err != nil {
		return fmt.Errorf("error checking user %s: %w", user.Email, err)
	}

	if existingUser != nil {
		slog.Info("User already exists, skipping", "email", user.Email)
		return nil
	}

	if err := s.repo.CreateUser(ctx, &user); err != nil {
		return fmt.Errorf("failed to create user %s: %w", user.Email, err)
	}

	if _, err := s.ledger.Grant(ctx, user.ID, demoCredits, "Demo account credits"); err != nil {
		return fmt.Errorf("failed to grant credits to %s: %w", user.Email, err)
	}

	slog.Info("Created user", "email", user.Email, "credits", demoCredits)
	return nil
}
