package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/tendant/esimkit/internal/carriersim"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	polls, err := strconv.Atoi(getEnv("SIM_LPA_AFTER_POLLS", "2"))
	if err != nil {
		logger.Error("SIM_LPA_AFTER_POLLS must be an integer", "error", err)
		os.Exit(1)
	}

	sim, err := carriersim.New(carriersim.Config{
		ClientID:       getEnv("GIFFGAFF_CLIENT_ID", "esim-web"),
		ClientSecret:   getEnv("GIFFGAFF_CLIENT_SECRET", "sim-secret"),
		FixedCode:      getEnv("SIM_FIXED_CODE", "123456"),
		CookieToken:    os.Getenv("SIM_COOKIE_TOKEN"),
		LPAAfterPolls:  polls,
		SessionCookies: strings.Split(getEnv("SIM_SESSION_COOKIES", "sim-session"), ","),
		Logger:         logger,
	})
	if err != nil {
		logger.Error("failed to create simulator", "error", err)
		os.Exit(1)
	}

	addr := getEnv("SIM_ADDR", "127.0.0.1:8090")
	server := &http.Server{
		Addr:         addr,
		Handler:      sim.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("carrier simulator listening", "addr", addr, "session_cookies", getEnv("SIM_SESSION_COOKIES", "sim-session"))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(ctx)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
