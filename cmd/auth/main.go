package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/lmco/activitysearch/internal/auth/apikey"
	"github.com/lmco/activitysearch/pkg/config"
	"github.com/lmco/activitysearch/pkg/logger"
	"github.com/lmco/activitysearch/pkg/postgres"
)

// auth manages the API keys the gateway authenticates against. Every key
// is bound to the stream user its requests act as.
//
// Usage:
//
//	auth create  --name "alice-cli" --user alice [--admin] [--rate-limit 100] [--expires-in 720h]
//	auth revoke  --key <raw-key>
//	auth list
func main() {
	_ = godotenv.Load()
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	store := apikey.NewPostgres(db)
	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		slog.Error("failed to migrate api_keys", "error", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "create":
		cmdCreate(ctx, store, args[1:])
	case "revoke":
		cmdRevoke(ctx, store, args[1:])
	case "list":
		cmdList(ctx, store)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func cmdCreate(ctx context.Context, store apikey.Store, args []string) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	name := fs.String("name", "", "name for the api key")
	user := fs.String("user", "", "stream user the key acts as")
	admin := fs.Bool("admin", false, "allow key administration through the gateway")
	rateLimit := fs.Int("rate-limit", 100, "requests per minute")
	expiresIn := fs.String("expires-in", "", "expiry duration, e.g. 720h (optional)")
	fs.Parse(args)

	if *name == "" || *user == "" {
		fmt.Fprintln(os.Stderr, "error: --name and --user are required")
		os.Exit(1)
	}

	nk := apikey.NewKey{Name: *name, UserKey: *user, Admin: *admin, RateLimit: *rateLimit}
	if *expiresIn != "" {
		d, err := time.ParseDuration(*expiresIn)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid --expires-in: %v\n", err)
			os.Exit(1)
		}
		t := time.Now().Add(d)
		nk.ExpiresAt = &t
	}

	raw, info, err := store.CreateKey(ctx, nk)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create key: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("API key created. It cannot be shown again.")
	fmt.Println()
	fmt.Printf("  Key:        %s\n", raw)
	fmt.Printf("  ID:         %s\n", info.ID)
	fmt.Printf("  Name:       %s\n", info.Name)
	fmt.Printf("  User:       %s\n", info.UserKey)
	fmt.Printf("  Admin:      %t\n", info.Admin)
	fmt.Printf("  Rate Limit: %d req/min\n", info.RateLimit)
	if info.ExpiresAt != nil {
		fmt.Printf("  Expires:    %s\n", info.ExpiresAt.Format(time.RFC3339))
	} else {
		fmt.Println("  Expires:    never")
	}
}

func cmdRevoke(ctx context.Context, store apikey.Store, args []string) {
	fs := flag.NewFlagSet("revoke", flag.ExitOnError)
	key := fs.String("key", "", "raw api key to revoke")
	fs.Parse(args)

	if *key == "" {
		fmt.Fprintln(os.Stderr, "error: --key is required")
		os.Exit(1)
	}
	if err := store.RevokeKey(ctx, *key); err != nil {
		fmt.Fprintf(os.Stderr, "failed to revoke key: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("API key revoked.")
}

func cmdList(ctx context.Context, store apikey.Store) {
	keys, err := store.ListKeys(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to list keys: %v\n", err)
		os.Exit(1)
	}
	if len(keys) == 0 {
		fmt.Println("No active API keys.")
		return
	}

	fmt.Printf("%-36s  %-20s  %-16s  %-5s  %-10s  %s\n", "ID", "Name", "User", "Admin", "Rate Limit", "Expires")
	for _, k := range keys {
		expires := "never"
		if k.ExpiresAt != nil {
			expires = k.ExpiresAt.Format(time.RFC3339)
		}
		fmt.Printf("%-36s  %-20s  %-16s  %-5t  %-10d  %s\n", k.ID, k.Name, k.UserKey, k.Admin, k.RateLimit, expires)
	}
	fmt.Printf("\nTotal: %d active key(s)\n", len(keys))
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: auth <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  create   Create a key bound to a user")
	fmt.Fprintln(os.Stderr, "  revoke   Revoke an existing key")
	fmt.Fprintln(os.Stderr, "  list     List active keys")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Examples:")
	fmt.Fprintln(os.Stderr, `  auth create --name "alice-cli" --user alice --rate-limit 100 --expires-in 720h`)
	fmt.Fprintln(os.Stderr, `  auth revoke --key "abc123..."`)
	fmt.Fprintln(os.Stderr, `  auth list`)
}
