package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"mmr-engine/internal/engine"
	"mmr-engine/internal/notify"
	"mmr-engine/internal/store"
)

func main() {
	// Load .env file - try multiple locations
	envPaths := []string{".env", "../.env", "../../.env"}
	envLoaded := false
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			fmt.Printf("Loaded .env from: %s\n", path)
			envLoaded = true
			break
		}
	}
	if !envLoaded {
		log.Println("No .env file found, using environment variables")
	}

	// Parse flags
	mode := flag.String("mode", "player", "Rating family: 'player' (aggregate) or 'hero' (per-hero)")
	flushEvery := flag.Int("flush-every", 10000, "Matches processed between history flushes")
	idleInterval := flag.Duration("idle-interval", 2*time.Minute, "Sleep when the feed is drained")
	retryBackoff := flag.Duration("retry-backoff", 10*time.Second, "Sleep after a store/source failure")
	sensitivity := flag.Float64("sensitivity", engine.DefaultSensitivity, "Outcome-pass sensitivity")
	learningRate := flag.Float64("learning-rate", engine.DefaultLearningRate, "Anchor-pass learning rate")
	clamp := flag.Bool("clamp", false, "Clamp snapshot scores to the rank scale on load")
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

	ctx := engine.SetupSignalHandler()

	db, err := store.New(ctx)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.CreateTables(ctx); err != nil {
		log.Fatalf("Failed to create tables: %v", err)
	}

	guard := store.NewDedupGuard()
	ratings := store.NewRatings(db, family, guard)
	source := store.ForFamily{
		Source: store.NewMatches(db, guard, ratings),
		Family: family,
	}

	// Optional Discord pass summaries
	var notifyFunc engine.NotifyFunc
	if webhookURL := os.Getenv("DISCORD_WEBHOOK_URL"); webhookURL != "" {
		notifyFunc = notify.NewWebhookClient(webhookURL).PassComplete(family.String())
		log.Println("[Engine] Discord pass notifications enabled")
	}

	config := engine.DefaultLoopConfig()
	config.FlushEvery = *flushEvery
	config.IdleInterval = *idleInterval
	config.RetryBackoff = *retryBackoff
	config.ClampOnLoad = *clamp

	eng := engine.Engine{Sensitivity: *sensitivity, LearningRate: *learningRate}
	loop, err := engine.NewUpdateLoop(eng, source, ratings, notifyFunc, config)
	if err != nil {
		log.Fatalf("Failed to build update loop: %v", err)
	}

	log.Printf("[Engine] Running %s family (sensitivity=%.2f, learning-rate=%.2f, flush-every=%d)",
		family, *sensitivity, *learningRate, *flushEvery)

	if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Update loop exited: %v", err)
	}
	log.Println("[Engine] Shutdown complete")
}
