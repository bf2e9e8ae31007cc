package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quizlms/internal/app"
	"quizlms/internal/db"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Printf("config error: %v", err)
		os.Exit(1)
	}

	dbConn, err := db.OpenPostgresWithConfig(context.Background(), cfg.DBDSN, db.PostgresConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.DBConnMaxLifeMins) * time.Minute,
	})
	if err != nil {
		log.Printf("database error: %v", err)
		os.Exit(1)
	}
	defer dbConn.Close()

	if cfg.AutoMigrate {
		if err := db.Migrate(context.Background(), dbConn); err != nil {
			log.Printf("migrate error: %v", err)
			os.Exit(1)
		}
		log.Printf("schema migrated")
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           app.NewRouter(cfg, dbConn),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("quizlms web listening on %s (env=%s)", cfg.HTTPAddr, cfg.AppEnv)
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("server stopped: %v", err)
			os.Exit(1)
		}
	case sig := <-shutdown:
		log.Printf("%v: start shutdown", sig)
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("could not stop server gracefully: %v", err)
			_ = server.Close()
		}
	}
}
