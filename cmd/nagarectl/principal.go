package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/ashita-ai/nagare/internal/auth"
	"github.com/ashita-ai/nagare/internal/model"
	"github.com/ashita-ai/nagare/internal/storage"
)

// PrincipalCmd groups principal commands.
type PrincipalCmd struct {
	Create PrincipalCreateCmd `kong:"cmd,help='Creates a principal, or rotates its key, and prints the new API key.'"`
}

// PrincipalCreateCmd upserts a principal with a freshly generated key.
type PrincipalCreateCmd struct {
	Subject     string `kong:"arg,required,help='Principal subject.'"`
	Role        string `kong:"default='editor',enum='viewer,editor,admin',help='Role to grant.'"`
	DatabaseURL string `kong:"name='database-url',env='DATABASE_URL',help='Postgres connection string.'"`
}

// Run executes the principal create command. The key is printed once and
// only its hash is stored.
func (cmd PrincipalCreateCmd) Run(ctx context.Context) error {
	if cmd.DatabaseURL == "" {
		return errors.New("--database-url or DATABASE_URL is required")
	}
	role, err := model.ParseRole(cmd.Role)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	db, err := storage.New(ctx, cmd.DatabaseURL, "", logger)
	if err != nil {
		return err
	}
	defer db.Close(ctx)

	key, err := auth.GenerateAPIKey()
	if err != nil {
		return err
	}
	hash, err := auth.HashAPIKey(key)
	if err != nil {
		return err
	}
	p, err := db.UpsertPrincipal(ctx, cmd.Subject, role, hash)
	if err != nil {
		return err
	}
	fmt.Printf("principal %s (%s) id=%s\n", p.Subject, p.Role, p.ID)
	fmt.Printf("api key: %s\n", key)
	return nil
}

// HashKeyCmd prints the stored form of an API key, for seeding principals
// by hand.
type HashKeyCmd struct {
	Key string `kong:"arg,required,help='API key to hash.'"`
}

// Run executes the hash-key command.
func (cmd HashKeyCmd) Run() error {
	hash, err := auth.HashAPIKey(cmd.Key)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

// KeygenCmd writes the Ed25519 pair used to sign API tokens.
type KeygenCmd struct {
	Dir string `kong:"default='data',type='path',help='Directory to write jwt_private.pem and jwt_public.pem into.'"`
}

// Run executes the keygen command.
func (cmd KeygenCmd) Run() error {
	privPath, pubPath, err := auth.WriteKeyPair(cmd.Dir)
	if err != nil {
		return err
	}
	fmt.Printf("wrote %s\nwrote %s\n", privPath, pubPath)
	fmt.Printf("set NAGARE_JWT_PRIVATE_KEY=%s and NAGARE_JWT_PUBLIC_KEY=%s\n", privPath, pubPath)
	return nil
}
