package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/mailblast/internal/api"
	"github.com/ignite/mailblast/internal/config"
	"github.com/ignite/mailblast/internal/dispatch"
	"github.com/ignite/mailblast/internal/genai"
)

// checkPortAvailable verifies that the target port is not already in use.
// This prevents confusion from stale processes occupying the port.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v\n"+
			"  Hint: Run 'lsof -i :%d' to find the blocking process", port, addr, err, port)
	}
	ln.Close()
	return nil
}

func main() {
	log.Println("╔════════════════════════════════════════════════════════════╗")
	log.Println("║  MAILBLAST Dispatch Server (cmd/server/main.go)            ║")
	log.Println("║  Template generation + sequential SMTP bulk dispatch       ║")
	log.Println("╚════════════════════════════════════════════════════════════╝")

	// Load configuration
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Pre-flight check: verify the target port is available
	host := cfg.Server.GetHost()
	port := cfg.Server.Port
	if err := checkPortAvailable(host, port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}
	log.Printf("Pre-flight check passed: port %d is available", port)

	// Initialize the template generator
	gen := genai.NewClient(cfg.Gemini.APIKey, cfg.Gemini.Model)
	if gen.Enabled() {
		log.Printf("Template generation enabled (model: %s)", cfg.Gemini.Model)
	} else {
		log.Println("Template generation disabled (GEMINI_API_KEY not set)")
	}

	// Initialize the dispatch engine. Credentials arrive per job, so the
	// engine gets a factory that binds them to the configured relay endpoint.
	relayHost, relayPort := cfg.Relay.Host, cfg.Relay.Port
	engine := dispatch.NewEngine(func(creds dispatch.Credentials) dispatch.Relay {
		return dispatch.NewSMTPRelay(relayHost, relayPort, creds)
	})
	log.Printf("Dispatch engine ready (relay: %s:%d)", relayHost, relayPort)

	// Initialize and start the API server
	handlers := api.NewHandlers(gen, engine)
	server := api.NewServer(cfg.Server, handlers, cfg.Static.Dir)

	// Setup graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		addr := cfg.Server.Addr()
		log.Printf("Starting server on %s", addr)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	log.Println("All services initialized — server is ready")

	<-done
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}
