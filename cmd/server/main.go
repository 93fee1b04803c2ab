package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"asistente-coples/config"
	"asistente-coples/internal/api/handlers"
	"asistente-coples/internal/api/middleware"
	"asistente-coples/internal/auth"
	"asistente-coples/internal/cleanup"
	"asistente-coples/internal/core/models"
	"asistente-coples/internal/database"
	"asistente-coples/internal/db/repository"
	"asistente-coples/internal/integrations/mqtt"
	"asistente-coples/internal/integrations/vision"
	"asistente-coples/internal/logger"
	"asistente-coples/internal/server/sse"
	"asistente-coples/internal/services/analysis"
	"asistente-coples/internal/services/preview"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Init(cfg.Log); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	log.Info("Starting asistente-coples server")

	if err := database.Init(cfg.DB); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	db, err := database.GetDB()
	if err != nil {
		log.Fatalf("Failed to get database handle: %v", err)
	}
	repo := repository.New(db)

	if err := seedDefaults(repo, cfg); err != nil {
		log.Fatalf("Failed to seed default data: %v", err)
	}

	authService := auth.NewService(cfg.Auth)
	visionClient := vision.NewClient(cfg.Vision)

	hub := sse.NewHub()
	go hub.Run()

	publisher := mqtt.NewPublisher(cfg.MQTT)
	if err := publisher.Start(); err != nil {
		log.Warnf("MQTT publisher unavailable: %v", err)
	}
	defer publisher.Stop()

	analysisService := analysis.NewService(repo, visionClient, hub, publisher)

	poller := preview.NewPoller(visionClient, hub, cfg.Vision)
	poller.Start()
	defer poller.Stop()

	cleanupService := cleanup.NewService(db, cfg.Cleanup, cfg.Server.ArtifactDir)
	cleanupService.StartBackgroundCleanup()
	defer cleanupService.StopBackgroundCleanup()

	router := buildRouter(cfg, repo, authService, analysisService, hub)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		log.Infof("HTTP server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("Server shutdown failed: %v", err)
	}
	log.Info("Server stopped")
}

// buildRouter assembles the gin engine with all middleware and routes.
func buildRouter(cfg *config.Config, repo *repository.Repository, authService *auth.Service, analysisService *analysis.Service, hub *sse.Hub) *gin.Engine {
	if cfg.Log.Level != "debug" && cfg.Log.Level != "trace" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORS.AllowedOrigins
	corsConfig.AllowCredentials = true
	corsConfig.AddAllowHeaders("Authorization")
	router.Use(cors.New(corsConfig))

	store := cookie.NewStore([]byte(cfg.Auth.JWTSecret))
	router.Use(sessions.Sessions("asistente_coples_session", store))

	router.Use(middleware.I18n(middleware.I18nConfig{
		DefaultLanguage: cfg.I18n.DefaultLanguage,
		LocalesDir:      cfg.I18n.LocalesDir,
	}))

	api := router.Group("/api")
	handler := handlers.NewAPIHandler(repo, cfg, authService, analysisService, hub)
	handler.RegisterRoutes(api)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return router
}

// seedDefaults creates the built-in roles and, on an empty installation, an
// initial admin account so the dashboard is reachable after first start.
func seedDefaults(repo *repository.Repository, cfg *config.Config) error {
	for _, seed := range []models.Role{
		{Name: cfg.Auth.AdminRole, Description: "Administrador del sistema"},
		{Name: "operador", Description: "Operador de inspección"},
	} {
		roles, err := repo.ListRoles()
		if err != nil {
			return err
		}
		exists := false
		for _, role := range roles {
			if role.Name == seed.Name {
				exists = true
				break
			}
		}
		if !exists {
			role := seed
			if err := repo.SaveRole(&role); err != nil {
				return err
			}
			log.Infof("Created role %q", role.Name)
		}
	}

	users, err := repo.ListUsers()
	if err != nil {
		return err
	}
	if len(users) > 0 {
		return nil
	}

	password := os.Getenv("COPLE_INITIAL_ADMIN_PASSWORD")
	if password == "" {
		password = "admin123"
		log.Warn("No COPLE_INITIAL_ADMIN_PASSWORD set, using the default initial password. Change it immediately.")
	}

	authService := auth.NewService(cfg.Auth)
	hash, err := authService.HashPassword(password)
	if err != nil {
		return err
	}

	roles, err := repo.ListRoles()
	if err != nil {
		return err
	}
	var adminRoleID *uint
	for i := range roles {
		if roles[i].Name == cfg.Auth.AdminRole {
			adminRoleID = &roles[i].ID
			break
		}
	}

	admin := &models.User{
		Username:     "admin",
		Email:        "admin@localhost",
		Name:         "Administrador",
		PasswordHash: hash,
		RoleID:       adminRoleID,
	}
	if err := repo.SaveUser(admin); err != nil {
		return err
	}
	log.Info("Created initial admin user")
	return nil
}
