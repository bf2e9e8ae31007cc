package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"syscall"
	"time"

	"quizlms/internal/app"
	"quizlms/internal/auth"
	"quizlms/internal/db"

	"golang.org/x/term"
)

var readPasswordFunc = term.ReadPassword

var errEmptyPassword = errors.New("admin password is empty")

func main() {
	var (
		adminEmail = flag.String("admin-email", "", "create an admin account with this email. The password is read from SEED_ADMIN_PASSWORD or prompted.")
		adminName  = flag.String("admin-name", "Administrator", "full name for -admin-email")
	)
	flag.Parse()

	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	dbConn, err := db.OpenPostgres(ctx, cfg.DBDSN)
	if err != nil {
		log.Fatalf("database error: %v", err)
	}
	defer dbConn.Close()

	if err := db.Migrate(ctx, dbConn); err != nil {
		log.Fatalf("migrate error: %v", err)
	}
	log.Printf("schema migrated")

	if *adminEmail == "" {
		return
	}
	password, err := adminPassword(os.Getenv)
	if err != nil {
		log.Fatalf("seed admin: %v", err)
	}

	svc := auth.NewService(dbConn, auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL))
	u, err := svc.CreateUser(ctx, *adminEmail, password, *adminName, auth.RoleAdmin)
	switch {
	case errors.Is(err, auth.ErrEmailTaken):
		log.Printf("admin %s already exists", *adminEmail)
	case err != nil:
		log.Fatalf("seed admin: %v", err)
	default:
		log.Printf("admin %s created with id %d", u.Email, u.ID)
	}
}

// adminPassword prefers SEED_ADMIN_PASSWORD and otherwise prompts on the terminal.
func adminPassword(getenv func(string) string) (string, error) {
	if pwd := getenv("SEED_ADMIN_PASSWORD"); pwd != "" {
		return pwd, nil
	}
	fmt.Print("Enter admin password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	if len(pwd) == 0 {
		return "", errEmptyPassword
	}
	return string(pwd), nil
}
