package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	dbfs "github.com/garnizeh/hostel/db"
	"github.com/garnizeh/hostel/internal/config"
	"github.com/garnizeh/hostel/internal/db"
	"github.com/garnizeh/hostel/internal/identity"
	"github.com/garnizeh/hostel/internal/repository/sqlite"
	"github.com/garnizeh/hostel/pkg/models"
)

func main() {
	configPath := flag.String("config", "", "Path to config YAML file")
	email := flag.String("superuser-email", "", "Create a superuser with this email (local identity only)")
	name := flag.String("superuser-name", "Superuser", "Display name of the bootstrap superuser")
	password := flag.String("superuser-password", "", "Password of the bootstrap superuser")
	flag.Parse()

	ctx := context.Background()
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}
	database, err := db.New(ctx, cfg.DatabasePath, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DB init error: %v\n", err)
		os.Exit(1)
	}
	defer database.Close()

	if err := db.Migrate(ctx, database, dbfs.Migrations, dbfs.SeedFiles); err != nil {
		fmt.Fprintf(os.Stderr, "Migration runner error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Database initialized successfully.")

	if *email == "" {
		return
	}
	if cfg.Identity.Provider == "firebase" {
		fmt.Fprintln(os.Stderr, "Bootstrap error: create the first superuser in the Firebase console when identity.provider is firebase")
		os.Exit(1)
	}
	if err := bootstrapSuperuser(ctx, cfg, database, *email, *name, *password); err != nil {
		fmt.Fprintf(os.Stderr, "Bootstrap error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Superuser %s created.\n", *email)
}

func bootstrapSuperuser(ctx context.Context, cfg *config.Config, database *db.DB, email, name, password string) error {
	repo := sqlite.New(database, nil)
	local := identity.NewLocal(repo, identity.LocalConfig{
		Secret:           cfg.Identity.JWTSecret,
		Issuer:           cfg.Identity.Issuer,
		TokenDuration:    cfg.Identity.TokenDuration,
		PasswordSetupURL: cfg.Identity.PasswordSetupURL,
		SetupDuration:    cfg.Identity.PasswordSetupExpiry,
	})

	rec, err := local.CreateUserWithPassword(ctx, identity.UserToCreate{Email: email, DisplayName: name}, password)
	if err != nil {
		return fmt.Errorf("create identity: %w", err)
	}
	err = repo.CreateProfile(ctx, &models.Profile{
		UID:    rec.UID,
		Name:   name,
		Email:  rec.Email,
		Role:   models.RoleSuperuser,
		Status: models.AccountActive,
	})
	if err != nil {
		_ = local.DeleteUser(ctx, rec.UID)
		return fmt.Errorf("create profile: %w", err)
	}
	return nil
}
