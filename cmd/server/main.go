package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/schoolport/schoolport/internal/config"
	"github.com/schoolport/schoolport/internal/email"
	"github.com/schoolport/schoolport/internal/handlers"
	"github.com/schoolport/schoolport/internal/middleware"
	"github.com/schoolport/schoolport/internal/realtime"
	"github.com/schoolport/schoolport/internal/repository"
	"github.com/schoolport/schoolport/internal/service"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	if err := godotenv.Load(); err == nil {
		logger.Info("Loaded environment from .env")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	dynamoClient, err := initDynamoDB(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize DynamoDB")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Endpoint,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Initialize repositories
	userRepo := repository.NewUserRepository(dynamoClient, cfg.DynamoDB.TableName, logger)
	notificationRepo := repository.NewNotificationRepository(dynamoClient, cfg.DynamoDB.TableName, logger)
	resetRepo := repository.NewResetRepository(dynamoClient, cfg.DynamoDB.TableName, logger)
	allowlistRepo := repository.NewAllowlistRepository(redisClient, logger)

	// Initialize services
	var mailer email.Mailer
	if cfg.Email.SendgridKey != "" {
		mailer = email.NewSendgridMailer(&cfg.Email, logger)
	} else {
		logger.Warn("No SendGrid key configured, emails go to the log")
		mailer = email.NewConsoleMailer(logger)
	}

	tokenService, err := service.NewTokenService(&cfg.JWT, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize token service")
	}

	authService := service.NewAuthService(userRepo, tokenService, allowlistRepo, mailer, logger)
	resetService := service.NewResetService(resetRepo, userRepo, allowlistRepo, mailer, &cfg.Reset, logger)

	hub := realtime.NewHub(logger)
	notificationService := service.NewNotificationService(notificationRepo, hub, mailer, cfg.Email.SendTimeout, logger)

	authHandlers := handlers.NewAuthHandlers(authService, resetService, logger)
	notificationHandlers := handlers.NewNotificationHandlers(notificationService, userRepo, logger)
	wsHandler := realtime.NewHandler(hub, authService, realtime.RolePolicy{}, logger)

	authMiddleware := middleware.NewAuthMiddleware(authService, logger)
	router := setupRouter(authHandlers, notificationHandlers, wsHandler, authMiddleware, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.WithField("port", cfg.Server.Port).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	// Let queued notification emails drain.
	notificationService.Wait()

	logger.Info("Server exited")
}

func initDynamoDB(cfg *config.Config, logger *logrus.Logger) (*dynamodb.Client, error) {
	var awsCfg aws.Config
	var err error

	if cfg.DynamoDB.Endpoint != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.TODO(),
			awsconfig.WithRegion(cfg.DynamoDB.Region),
			awsconfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
				func(service, region string, options ...interface{}) (aws.Endpoint, error) {
					return aws.Endpoint{
						URL:           cfg.DynamoDB.Endpoint,
						SigningRegion: cfg.DynamoDB.Region,
					}, nil
				})),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.TODO())
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg)
	logger.Info("DynamoDB client initialized")
	return client, nil
}

func setupRouter(
	authHandlers *handlers.AuthHandlers,
	notificationHandlers *handlers.NotificationHandlers,
	wsHandler *realtime.Handler,
	authMiddleware *middleware.AuthMiddleware,
	logger *logrus.Logger,
) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.CORSMiddleware)
	router.Use(middleware.LoggingMiddleware(logger))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET", "OPTIONS")

	api := router.PathPrefix("/api/v1").Subrouter()

	auth := api.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/register", authHandlers.Register).Methods("POST", "OPTIONS")
	auth.HandleFunc("/login", authHandlers.Login).Methods("POST", "OPTIONS")
	auth.HandleFunc("/refresh", authHandlers.Refresh).Methods("POST", "OPTIONS")
	auth.HandleFunc("/forgot-password", authHandlers.ForgotPassword).Methods("POST", "OPTIONS")
	auth.HandleFunc("/reset-password", authHandlers.ResetPassword).Methods("POST", "OPTIONS")

	// Realtime handshake carries its own token; no middleware in front.
	api.Handle("/ws", wsHandler).Methods("GET")

	protected := api.PathPrefix("/").Subrouter()
	protected.Use(authMiddleware.RequireAuth)
	protected.HandleFunc("/auth/logout", authHandlers.Logout).Methods("POST", "OPTIONS")
	protected.HandleFunc("/me", authHandlers.Me).Methods("GET")
	protected.HandleFunc("/me", authHandlers.UpdateProfile).Methods("PUT", "OPTIONS")
	protected.HandleFunc("/notifications", notificationHandlers.List).Methods("GET")
	protected.HandleFunc("/notifications/read-all", notificationHandlers.MarkAllRead).Methods("PUT", "OPTIONS")
	protected.HandleFunc("/notifications/{id}/read", notificationHandlers.MarkRead).Methods("PUT", "OPTIONS")

	admin := protected.PathPrefix("/admin").Subrouter()
	admin.Use(authMiddleware.RequireRole("admin", "principal"))
	admin.HandleFunc("/notices", notificationHandlers.Dispatch).Methods("POST", "OPTIONS")
	admin.HandleFunc("/users/{id}/deactivate", authHandlers.Deactivate).Methods("POST", "OPTIONS")

	return router
}
