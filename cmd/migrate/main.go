// cmd/migrate/main.go
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/unclebandit/portal-dispatch/internal/config"
	"github.com/unclebandit/portal-dispatch/internal/db/migrate"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	direction := flag.String("direction", "up", "migration direction: up or down")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	if err := migrate.Run(cfg.Database.DSN(), *direction); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return
		}
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
	fmt.Println("Database migrated", *direction)
}
