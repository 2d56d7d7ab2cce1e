package main

import (
	"log"
	"os"

	"github.com/anasirfan/limi-sub004/internal/application/startup"
)

func main() {
	if err := startup.Initialize(); err != nil {
		log.Fatalf("Agent startup failed: %v", err)
		os.Exit(1)
	}

	log.Println("Agent has shut down gracefully.")
}
