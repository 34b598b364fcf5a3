package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"gopkg.in/yaml.v3"

	"github.com/togetherhq/identity/internal/crypto"
)

const (
	devUserID  = "usr_dev_000000000000000001"
	devAdminID = "usr_dev_000000000000000002"
)

type clientsFile struct {
	Clients []clientEntry `yaml:"clients"`
}

type clientEntry struct {
	ClientID     string   `yaml:"client_id"`
	Name         string   `yaml:"name"`
	Secret       string   `yaml:"secret"`
	RedirectURIs []string `yaml:"redirect_uris"`
	SkipConsent  bool     `yaml:"skip_consent"`
}

func main() {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	fmt.Println("Seeding identity database...")

	fmt.Println("  Inserting dev user...")
	if err := seedUser(ctx, pool, devUserID, "dev@together.test", "password", "user",
		`{"together-notes":["editor"]}`); err != nil {
		fmt.Fprintf(os.Stderr, "insert dev user: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("  Inserting admin user...")
	if err := seedUser(ctx, pool, devAdminID, "admin@together.test", "password", "user,admin", `{}`); err != nil {
		fmt.Fprintf(os.Stderr, "insert admin user: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("  Seeding OAuth clients from YAML...")
	if err := seedClients(ctx, pool); err != nil {
		fmt.Fprintf(os.Stderr, "seed clients: %v\n", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("Seed complete!")
	fmt.Println()
	fmt.Println("  Login: dev@together.test / password")
	fmt.Println("  Login: admin@together.test / password")
}

func seedUser(ctx context.Context, pool *pgxpool.Pool, id, email, password, role, appRoles string) error {
	_, err := pool.Exec(ctx,
		`INSERT INTO users (id, email, email_verified, role, app_roles)
		 VALUES ($1, $2, true, $3, $4::jsonb)
		 ON CONFLICT (id) DO NOTHING`,
		id, email, role, appRoles)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}

	hash, err := crypto.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	_, err = pool.Exec(ctx,
		`INSERT INTO accounts (id, user_id, provider_id, account_id, password_hash)
		 VALUES ($1, $2, 'credential', $3, $4)
		 ON CONFLICT (provider_id, account_id) DO NOTHING`,
		"acc_"+id, id, email, hash)
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

// seedClients reads seeds/identity/clients.yaml and upserts OAuth clients.
// Secrets are stored as digests, same as the registration path.
func seedClients(ctx context.Context, pool *pgxpool.Pool) error {
	// Resolve path relative to this source file so it works regardless of cwd.
	_, thisFile, _, _ := runtime.Caller(0)
	yamlPath := filepath.Join(filepath.Dir(thisFile), "clients.yaml")

	data, err := os.ReadFile(yamlPath)
	if err != nil {
		return fmt.Errorf("read clients.yaml: %w", err)
	}

	var cf clientsFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return fmt.Errorf("parse clients.yaml: %w", err)
	}

	for _, c := range cf.Clients {
		fmt.Printf("    Upserting client %s (%s)\n", c.ClientID, c.Name)
		digest := crypto.Digest(c.Secret)
		_, err := pool.Exec(ctx,
			`INSERT INTO oauth_clients (client_id, client_secret_hash, name, redirect_uris, skip_consent)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (client_id) DO UPDATE SET
			   name = EXCLUDED.name,
			   redirect_uris = EXCLUDED.redirect_uris,
			   skip_consent = EXCLUDED.skip_consent`,
			c.ClientID, digest, c.Name, c.RedirectURIs, c.SkipConsent)
		if err != nil {
			return fmt.Errorf("upsert client %s: %w", c.ClientID, err)
		}
	}
	return nil
}
