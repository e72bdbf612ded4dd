// sandboxd runs the sandbox session manager API service.
package main

import (
	"log"
	"os"

	"github.com/agent-infra/sandboxd/internal/bootstrap"
)

func main() {
	configPath := os.Getenv("SANDBOXD_CONFIG_FILE")

	if err := bootstrap.RunServer(configPath); err != nil {
		log.Fatalf("sandboxd exited: %v", err)
	}
}
