package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	jwtpkg "vmail/backend/internal/auth/jwt"
	"vmail/backend/internal/config"
	"vmail/backend/internal/domain"
	"vmail/backend/internal/storage"
	"vmail/backend/internal/storage/postgres"
	sqlstore "vmail/backend/internal/storage/sql"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: create-user <address> [userId]")
		os.Exit(1)
	}

	address := domain.NormalizeAddress(os.Args[1])
	if err := domain.ValidateAddress(address); err != nil {
		fmt.Printf("Invalid address: %v\n", err)
		os.Exit(1)
	}
	userID := uuid.NewString()
	if len(os.Args) >= 3 {
		userID = strings.TrimSpace(os.Args[2])
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dir, closeDir, err := openDirectory(ctx, cfg)
	if err != nil {
		fmt.Printf("Failed to open directory: %v\n", err)
		os.Exit(1)
	}
	defer closeDir()

	entry := &domain.DirectoryEntry{Address: address, UserID: userID, CreatedAt: time.Now().UTC()}
	if err := dir.SaveEntry(ctx, entry); err != nil {
		fmt.Printf("Failed to save directory entry: %v\n", err)
		os.Exit(1)
	}

	token, err := jwtpkg.NewManager(cfg.JWT).GenerateToken(userID, address)
	if err != nil {
		fmt.Printf("Failed to issue token: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ Directory entry created successfully!\n")
	fmt.Printf("  Address: %s\n", entry.Address)
	fmt.Printf("  User ID: %s\n", entry.UserID)
	fmt.Printf("  Token:   %s\n", token)
	fmt.Printf("  Expires: %s\n", time.Now().Add(cfg.JWT.AccessExpiry).Format(time.RFC3339))
}

// openDirectory 打开持久化的用户目录，static 类型只能通过 VMAIL_DIRECTORY_STATIC 配置
func openDirectory(ctx context.Context, cfg *config.Config) (storage.Directory, func(), error) {
	switch cfg.Directory.Type {
	case "postgres":
		client, err := postgres.NewClient(ctx, cfg.Directory, cfg.Database, zap.NewNop())
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil
	case "sql":
		store, err := sqlstore.NewStore(cfg.Directory, cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case "database":
		store, err := postgres.NewStore(cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("directory type %q is not persistent; set VMAIL_DIRECTORY_STATIC=%s=<userId> instead", cfg.Directory.Type, os.Args[1])
	}
}
