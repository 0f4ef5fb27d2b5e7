package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"mmr-engine/internal/leaderboard"
	"mmr-engine/internal/store"
)

func main() {
	// Load .env file - try multiple locations
	envPaths := []string{".env", "../.env", "../../.env"}
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			fmt.Printf("Loaded .env from: %s\n", path)
			break
		}
	}

	mode := flag.String("mode", "player", "Rating family to export: 'player' or 'hero'")
	size := flag.Int("size", 1000, "Leaderboard size")
	flag.Parse()

	var family store.Family
	switch *mode {
	case "player":
		family = store.FamilyPlayer
	case "hero":
		family = store.FamilyHero
	default:
		log.Fatalf("Unknown mode %q, expected 'player' or 'hero'", *mode)
	}

	tursoURL := strings.Trim(os.Getenv("TURSO_DATABASE_URL"), "\"")
	if tursoURL == "" {
		log.Fatal("TURSO_DATABASE_URL environment variable not set")
	}
	tursoToken := strings.Trim(os.Getenv("TURSO_AUTH_TOKEN"), "\"")

	ctx := context.Background()

	db, err := store.New(ctx)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	turso, err := leaderboard.NewTursoClient(tursoURL, tursoToken)
	if err != nil {
		log.Fatalf("Failed to connect to Turso: %v", err)
	}
	defer turso.Close()

	exporter := leaderboard.NewExporter(
		store.NewRatings(db, family, nil),
		turso,
		family.String(),
		*size,
	)

	if err := exporter.Export(ctx); err != nil {
		log.Fatalf("Export failed: %v", err)
	}
}
