package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"stordesk.io/internal/access"
	"stordesk.io/internal/migrate"
	pgstore "stordesk.io/internal/store/pg"
)

func main() {
	log.SetFlags(0)
	var (
		dsn            = flag.String("dsn", os.Getenv("STORDESK_PG_DSN"), "PostgreSQL DSN")
		migrationsPath = flag.String("migrations", "migrations", "Path to SQL migrations")
		seedsPath      = flag.String("seeds", "seeds", "Path to SQL seeds")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or STORDESK_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|seed|status|bootstrap-admin]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	mgr := migrate.NewManager(db, *migrationsPath, *seedsPath)

	switch flag.Arg(0) {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		err = mgr.Seed(ctx)
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		if err == nil {
			for _, item := range history {
				fmt.Println(item)
			}
		}
	case "bootstrap-admin":
		err = bootstrapAdmin(ctx, db)
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}

// bootstrapAdmin creates the first manager account. The password is taken
// from the environment and hashed here, so no credential material ever
// lives in seed files. A no-op when the username already exists.
func bootstrapAdmin(ctx context.Context, db *sql.DB) error {
	username := os.Getenv("STORDESK_ADMIN_USERNAME")
	if username == "" {
		username = "admin"
	}
	password := os.Getenv("STORDESK_ADMIN_PASSWORD")
	if password == "" {
		return errors.New("STORDESK_ADMIN_PASSWORD is required")
	}

	store := pgstore.NewWithDB(db)
	svc, err := access.NewService(store)
	if err != nil {
		return err
	}

	if _, err := store.Users().GetByUsername(ctx, username); err == nil {
		log.Printf("admin %q already exists, nothing to do", username)
		return nil
	} else if !errors.Is(err, access.ErrNotFound) {
		return err
	}

	// The managers role comes from the seed scripts.
	user, err := svc.CreateUser(ctx, access.CreateUserInput{
		Username: username,
		Password: password,
		RoleIDs:  []string{"role-managers"},
	})
	if err != nil {
		return err
	}
	log.Printf("created admin %q (%s)", user.Username, user.ID)
	return nil
}
