// Command migrate applies the gateway's schema migrations, which cover both
// the API key store and the usage audit tables.
//
// Usage:
//
//	migrate [flags] up|down|version|force <v>
//
// The database is resolved from -db-url, then DATABASE_URL, then the
// database section of the gateway config file.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/af-corp/meridian-gateway/internal/config"
)

func main() {
	dbURL := flag.String("db-url", "", "database URL (overrides DATABASE_URL and the config file)")
	configPath := flag.String("config", "configs/gateway.yaml", "gateway config file used to derive the database URL")
	migrationsPath := flag.String("path", "migrations", "path to the migrations directory")
	steps := flag.Int("steps", 0, "apply at most this many steps (0 = all)")
	flag.Parse()

	command := flag.Arg(0)
	if command == "" {
		command = "up"
	}

	m, err := migrate.New("file://"+*migrationsPath, resolveDSN(*dbURL, *configPath))
	if err != nil {
		log.Fatalf("open migrator: %v", err)
	}
	defer m.Close()

	switch command {
	case "up":
		err = apply(m, *steps)
	case "down":
		if *steps == 0 {
			err = m.Down()
		} else {
			err = m.Steps(-*steps)
		}
	case "version":
		v, dirty, verr := m.Version()
		if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
			log.Fatalf("read version: %v", verr)
		}
		fmt.Printf("version=%d dirty=%v\n", v, dirty)
		return
	case "force":
		v, perr := strconv.Atoi(flag.Arg(1))
		if perr != nil {
			log.Fatalf("force needs a numeric version, got %q", flag.Arg(1))
		}
		err = m.Force(v)
	default:
		log.Fatalf("unknown command %q (use up, down, version, or force)", command)
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatalf("migration %s failed: %v", command, err)
	}

	v, dirty, _ := m.Version()
	fmt.Printf("migration %s complete (version=%d dirty=%v)\n", command, v, dirty)
}

func apply(m *migrate.Migrate, steps int) error {
	if steps == 0 {
		return m.Up()
	}
	return m.Steps(steps)
}

// resolveDSN picks the first configured database URL: the explicit flag, the
// DATABASE_URL environment variable, or the gateway config file. The config
// file path goes through the same env expansion the gateway itself uses.
func resolveDSN(flagURL, configPath string) string {
	if flagURL != "" {
		return flagURL
	}
	if env := os.Getenv("DATABASE_URL"); env != "" {
		return env
	}

	cfg := config.DefaultConfig()
	if err := config.LoadFile(configPath, cfg); err != nil {
		log.Fatalf("no -db-url or DATABASE_URL set, and loading %s failed: %v", configPath, err)
	}
	return cfg.Database.DSN()
}
