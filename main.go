package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/eNMS-automation/eNMS-sub001/internal/auth"
	"github.com/eNMS-automation/eNMS-sub001/internal/config"
	"github.com/eNMS-automation/eNMS-sub001/internal/database"
	"github.com/eNMS-automation/eNMS-sub001/internal/handlers"
	"github.com/eNMS-automation/eNMS-sub001/internal/inventory"
	"github.com/eNMS-automation/eNMS-sub001/internal/logging"
	"github.com/eNMS-automation/eNMS-sub001/internal/middleware"
	"github.com/eNMS-automation/eNMS-sub001/internal/sshterminal"
	"github.com/eNMS-automation/eNMS-sub001/internal/wire"
)

func main() {
	// Handle CLI commands before starting the server
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--create-session":
			runCLICommand("create-session")
			return
		case "--import-inventory":
			runCLICommand("import-inventory")
			return
		case "--create-admin":
			runCLICommand("create-admin")
			return
		case "--reset-password":
			runCLICommand("reset-password")
			return
		}
	}

	config.Load()

	logger, err := logging.New(logging.Config{
		Level:       config.Cfg.LogLevel,
		Development: config.Cfg.Development,
		FilePath:    config.Cfg.LogFile(),
	})
	if logger == nil {
		log.Fatalf("Logger init: %v", err)
	}
	if err != nil {
		logger.Warn("log file disabled", zap.Error(err))
	}
	defer logger.Sync()

	if err := database.Init(config.Cfg.DatabaseFile()); err != nil {
		logger.Fatal("database init", zap.Error(err))
	}
	defer database.Close()

	if config.Cfg.InventoryPath != "" {
		if err := importInventory(config.Cfg.InventoryPath, logger); err != nil {
			logger.Error("inventory import", zap.Error(err))
		}
	}

	if config.Cfg.AuthDisabled {
		logger.Warn("API authentication disabled, requests act as the first admin")
	}

	termMgr := configureTerminals(logger)
	logger.Info("terminal session manager initialized",
		zap.String("local_shell", config.Cfg.TerminalShell),
		zap.Bool("recording", termMgr.RecordingEnabled),
		zap.Duration("idle_timeout", termMgr.IdleTimeout))

	scheduler, err := startCleanup(config.Cfg.CleanupSchedule, cleanupPolicy{
		PendingTTL: config.Cfg.PendingSessionTTL,
		Retention:  time.Duration(config.Cfg.TranscriptRetentionDays) * 24 * time.Hour,
	}, logger)
	if err != nil {
		logger.Fatal("cleanup schedule", zap.Error(err))
	}

	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: newRouter(),
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-sigCtx.Done()
	logger.Info("shutting down")

	<-scheduler.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	termMgr.CloseAll()
	logger.Info("server stopped")
}

// configureTerminals installs the shell opener, the session manager and the
// input limits from config.Cfg.
func configureTerminals(logger *zap.Logger) *sshterminal.SessionManager {
	handlers.Logger = logger.Named("handlers")

	termMgr := sshterminal.NewSessionManager(logger)
	termMgr.RecordingEnabled = config.Cfg.TerminalRecordingEnabled
	termMgr.IdleTimeout = config.Cfg.TerminalIdleTimeout
	termMgr.OnClose = handlers.OnShellClosed
	handlers.TermSessionMgr = termMgr

	handlers.ShellOpener = &sshterminal.DeviceOpener{
		LocalShell:     config.Cfg.TerminalShell,
		ConnectTimeout: config.Cfg.SSHConnectTimeout,
	}
	handlers.InputRateLimit = rate.Limit(config.Cfg.TerminalInputRate)
	handlers.InputRateBurst = config.Cfg.TerminalInputBurst
	handlers.AllowedOrigins = config.Cfg.AllowedOrigins
	handlers.SessionStore = auth.NewSessionStore()
	return termMgr
}

func newRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(handlers.Metrics.Middleware)

	// Health and metrics (no session)
	r.Get("/health", handlers.HealthCheck)
	r.Method(http.MethodGet, "/metrics", handlers.Metrics.Handler())

	// Terminal channel and unload beacon. The session token authorizes
	// both; the websocket also checks the Origin.
	r.Get(wire.TerminalPath, handlers.TerminalWSProxy)
	r.With(chimw.AllowContentType("application/json"), middleware.RequireSession).
		Post(wire.ShutdownPath, handlers.Shutdown)

	r.Route("/api", func(r chi.Router) {
		r.Use(chimw.AllowContentType("application/json"))

		// Auth (no auth required)
		r.Post("/auth/login", handlers.Login)
		r.Post("/auth/logout", handlers.Logout)
		r.Get("/auth/setup-required", handlers.SetupRequired)
		r.Post("/auth/setup", handlers.SetupCreateAdmin)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(handlers.SessionStore))

			r.Get("/auth/me", handlers.GetCurrentUser)

			r.Get("/sessions", handlers.ListSessions)
			r.Post("/sessions", handlers.CreateSession)
			r.Get("/sessions/{token}", handlers.GetSession)
			r.Delete("/sessions/{token}", handlers.CloseSession)

			r.Get("/devices", handlers.ListDevices)

			// Admin-only routes
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin)
				r.Post("/devices", handlers.CreateDevice)
				r.Get("/logs", handlers.GetServerLogs)
			})
		})
	})
	return r
}

func importInventory(path string, logger *zap.Logger) error {
	inv, err := inventory.Load(path)
	if err != nil {
		return err
	}
	n, err := inventory.Apply(inv, logger)
	logger.Info("inventory imported", zap.String("path", path), zap.Int("devices", n))
	return err
}

func runCLICommand(command string) {
	fs := pflag.NewFlagSet(command, pflag.ExitOnError)
	username := fs.String("username", "", "Username")
	password := fs.String("password", "", "Password")
	fs.Parse(os.Args[2:])

	switch command {
	case "create-session":
		if fs.NArg() != 1 {
			fmt.Fprintln(os.Stderr, "Usage: enms --create-session <device-id>")
			os.Exit(1)
		}
	case "import-inventory":
		if fs.NArg() != 1 {
			fmt.Fprintln(os.Stderr, "Usage: enms --import-inventory <inventory.yaml>")
			os.Exit(1)
		}
	default:
		if *username == "" || *password == "" {
			fmt.Fprintf(os.Stderr, "Usage: enms --%s --username <user> --password <pass>\n", command)
			os.Exit(1)
		}
	}

	config.Load()
	if err := database.Init(config.Cfg.DatabaseFile()); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	switch command {
	case "create-session":
		id, err := strconv.ParseUint(fs.Arg(0), 10, 32)
		if err != nil {
			log.Fatalf("Invalid device id %q", fs.Arg(0))
		}
		sess, err := database.CreateSession(uint(id))
		if err != nil {
			log.Fatalf("Failed to create session: %v", err)
		}
		fmt.Println(sess.Token)

	case "import-inventory":
		if err := importInventory(fs.Arg(0), zap.NewNop()); err != nil {
			log.Fatalf("Failed to import inventory: %v", err)
		}
		fmt.Printf("Inventory '%s' imported.\n", fs.Arg(0))

	case "create-admin":
		hash, err := auth.HashPassword(*password)
		if err != nil {
			log.Fatalf("Failed to hash password: %v", err)
		}
		user := &database.User{Username: *username, PasswordHash: hash, Role: database.RoleAdmin}
		if err := database.CreateUser(user); err != nil {
			log.Fatalf("Failed to create admin: %v", err)
		}
		fmt.Printf("Admin user '%s' created successfully.\n", *username)

	case "reset-password":
		hash, err := auth.HashPassword(*password)
		if err != nil {
			log.Fatalf("Failed to hash password: %v", err)
		}
		user, err := database.GetUserByUsername(*username)
		if err != nil {
			log.Fatalf("User '%s' not found", *username)
		}
		if err := database.UpdateUserPassword(user.ID, hash); err != nil {
			log.Fatalf("Failed to update password: %v", err)
		}
		fmt.Printf("Password reset for '%s'. Existing logins expire within %s.\n", *username, auth.SessionDuration)
	}
}
