package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sunduk/QuestMate-sub000/cache"
	"github.com/sunduk/QuestMate-sub000/db"
	"github.com/sunduk/QuestMate-sub000/handlers"
	"github.com/sunduk/QuestMate-sub000/middleware"
	"github.com/sunduk/QuestMate-sub000/models"
	"github.com/sunduk/QuestMate-sub000/routes"
	"github.com/sunduk/QuestMate-sub000/services"
	"github.com/sunduk/QuestMate-sub000/storage"
	"github.com/sunduk/QuestMate-sub000/utils"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	utils.InitLogger()
	defer utils.Logger.Sync()
	utils.InitMetrics()

	utils.Logger.Info("starting_application")

	db.Connect()
	if err := db.DB.AutoMigrate(
		&models.User{},
		&models.Quest{},
		&models.QuestMember{},
		&models.Verification{},
	); err != nil {
		utils.Logger.Fatal("migration_failed", zap.Error(err))
	}

	// Redis is optional: list cache and rate limiting degrade gracefully.
	if err := cache.InitRedis(utils.Logger); err != nil {
		utils.Logger.Warn("redis_unavailable_continuing_without_cache", zap.Error(err))
	}

	files, err := storage.NewFromEnv()
	if err != nil {
		utils.Logger.Fatal("storage_init_failed", zap.Error(err))
	}

	questService := services.NewQuestService(db.DB, files, utils.Logger)
	handlers.Init(questService)
	routes.Init(files)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(middleware.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.SecurityHeaders())

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Static uploads (local storage driver)
	r.Static("/uploads", storage.UploadDir())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now(),
			"database":  "connected",
		})
	})

	authLimit := middleware.RateLimitMiddleware(10, time.Minute)
	r.POST("/api/register", authLimit, routes.Register)
	r.POST("/api/login", authLimit, routes.Login)

	// Public reads; detail personalizes is_joined when a token is present
	r.GET("/api/quests", handlers.GetQuests)
	r.GET("/api/quests/:id", middleware.OptionalAuth(), handlers.GetQuestDetail)

	api := r.Group("/api")
	api.Use(middleware.AuthMiddleware())
	{
		api.GET("/profile", routes.Profile)
		api.PUT("/profile", routes.UpdateProfile)

		api.POST("/quests", handlers.CreateQuest)
		api.POST("/quests/:id/join", handlers.JoinQuest)
		api.DELETE("/quests/:id/leave", handlers.LeaveQuest)

		api.POST("/quests/:id/verifications", handlers.CreateVerification)
		api.PUT("/quests/:id/verifications/:verificationId", handlers.UpdateVerification)
		api.DELETE("/quests/:id/verifications/:verificationId", handlers.DeleteVerification)
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	startServer(r)
}

func startServer(router *gin.Engine) {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	utils.Logger.Info("starting_http_server", zap.String("port", port))

	fmt.Println("\n🚀 ================================")
	fmt.Println("   Quest Mate Backend Started")
	fmt.Println("   ================================")
	fmt.Printf("   🌐 Server:  http://localhost:%s\n", port)
	fmt.Printf("   📊 Metrics: http://localhost:%s/metrics\n", port)
	fmt.Printf("   ❤️  Health: http://localhost:%s/health\n", port)
	fmt.Println("   ================================")

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			utils.Logger.Fatal("http_server_failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	utils.Logger.Info("shutting_down_server")
	fmt.Println("\n🛑 Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		utils.Logger.Fatal("server_forced_shutdown", zap.Error(err))
	}

	utils.Logger.Info("server_stopped")
	fmt.Println("✅ Server stopped gracefully")
}
