// Command mindflow-mcp runs the mindflow MCP server behind its OAuth
// authorization endpoints. Everything is stateless: tokens are
// self-encoded and the to-do store lives in memory.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	mcpauth "github.com/mindflow-app/mcp-auth"
	"github.com/mindflow-app/mcp-auth/instrumentation"
	"github.com/mindflow-app/mcp-auth/mcpserver"
	"github.com/mindflow-app/mcp-auth/security"
	"github.com/mindflow-app/mcp-auth/server"
	"github.com/mindflow-app/mcp-auth/todo"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	srv, err := server.New(&server.Config{
		SigningSecret:    getEnvOrFail("AUTH_SECRET"),
		ClientID:         getEnvOrFail("MCP_CLIENT_ID"),
		ClientSecret:     os.Getenv("MCP_CLIENT_SECRET"),
		ClientSecretHash: os.Getenv("MCP_CLIENT_SECRET_HASH"),
	}, logger)
	if err != nil {
		log.Fatal(err)
	}

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceVersion: "0.1.0",
		Enabled:        os.Getenv("OTEL_ENABLED") == "true",
	})
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = inst.Shutdown(ctx)
	}()

	handler := mcpauth.NewHandler(srv, &mcpauth.Config{
		Logger:            logger,
		TrustProxy:        os.Getenv("TRUST_PROXY") == "true",
		TrustedProxyCount: 1,
		RateLimit:         &mcpauth.RateLimitConfig{RequestsPerSecond: 10, Burst: 20},
		AuditEnabled:      true,
		Instrumentation:   inst,
	})
	defer handler.Close()

	store := todo.NewStore()
	seed(store)

	mux := http.NewServeMux()
	handler.Routes(mux, mcpserver.Handler(store))

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	logger.Info("starting mindflow MCP server",
		"addr", addr,
		"mcp", mcpauth.PathMCP,
		"authorize", mcpauth.PathAuthorize,
		"token", mcpauth.PathToken,
	)
	log.Fatal(http.ListenAndServe(addr, security.RequestIDMiddleware(mux)))
}

// seed creates the default categories a fresh install starts with.
func seed(store *todo.Store) {
	store.CreateCategory("Inbox", "")
	store.CreateCategory("Work", "#F59E0B")
	store.CreateCategory("Personal", "#10B981")
}

func getEnvOrFail(key string) string {
	value := os.Getenv(key)
	if value == "" {
		log.Fatalf("Environment variable %s is required", key)
	}
	return value
}
