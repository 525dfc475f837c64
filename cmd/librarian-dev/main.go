package main

import (
	"log"
	"os"

	"librarian/internal/app"
)

// Development entry point: runs the application against the in-memory
// store with development logging, so no database file or migration run is
// needed to poke at the API locally.
func main() {
	os.Setenv("USE_MOCK_DB", "true")
	os.Setenv("DEV_LOGGING", "true")

	if os.Getenv("PORT") == "" {
		os.Setenv("PORT", "8080")
	}

	log.Println("Starting librarian with in-memory storage (dev mode)...")

	application, err := app.New()
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	if err := application.Run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}
