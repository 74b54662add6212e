package main

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"invictos-system/config"
	"invictos-system/internal/database"
	"invictos-system/internal/middleware"
	authhandler "invictos-system/internal/services/auth/handler"
	commissionshandler "invictos-system/internal/services/commissions/handler"
	inventoryhandler "invictos-system/internal/services/inventory/handler"
	poshandler "invictos-system/internal/services/pos/handler"
	userhandler "invictos-system/internal/services/user/handler"
)

func main() {
	cfg := config.LoadConfig()

	db, err := database.NewConnection(cfg.DB.DSN())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
	if err := database.Seed(db); err != nil {
		log.Fatalf("Failed to seed database: %v", err)
	}

	rdb := config.NewRedisClient(cfg.Redis)
	defer rdb.Close()

	authHandler := authhandler.NewAuthHandler(db, rdb)
	userHandler := userhandler.NewUserHandler(db, rdb)
	inventoryHandler := inventoryhandler.NewInventoryHandler(db, rdb)
	posHandler := poshandler.NewPOSHandler(db, rdb)
	commissionsHandler := commissionshandler.NewCommissionsHandler(db, rdb)

	r := gin.Default()

	r.Use(middleware.CORS())
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(middleware.RateLimit())

	// --- Public API Group ---
	public := r.Group("/api/v1")
	{
		auth := public.Group("/auth")
		{
			auth.GET("/users", authHandler.ListLoginUsers)
			auth.POST("/login", authHandler.Login)
			auth.POST("/recovery/send", authHandler.SendRecoveryCode)
			auth.POST("/recovery/verify", authHandler.VerifyRecoveryCode)
		}
	}

	// --- Protected API Group ---
	protected := r.Group("/api/v1")
	protected.Use(middleware.JWTAuth())
	{
		auth := protected.Group("/auth")
		{
			auth.POST("/unlock/:id", middleware.AdminOnly(), authHandler.UnlockUser)
		}

		users := protected.Group("/users")
		users.Use(middleware.AdminOnly())
		{
			users.POST("", userHandler.CreateUser)
			users.GET("", userHandler.ListUsers)
			users.GET("/:id", userHandler.GetUser)
			users.PUT("/:id", userHandler.UpdateUser)
			users.DELETE("/:id", userHandler.DeleteUser)
		}

		configGroup := protected.Group("/config")
		{
			configGroup.GET("", userHandler.GetConfig)
			configGroup.PUT("", middleware.AdminOnly(), userHandler.UpdateConfig)
		}

		inventory := protected.Group("/inventory")
		{
			inventory.GET("/products", inventoryHandler.ListProducts)
			inventory.GET("/products/low-stock", inventoryHandler.LowStock)
			inventory.GET("/products/export", inventoryHandler.ExportCSV)
			inventory.GET("/products/:id", inventoryHandler.GetProduct)
			inventory.POST("/products", middleware.AdminOnly(), inventoryHandler.CreateProduct)
			inventory.PUT("/products/:id", middleware.AdminOnly(), inventoryHandler.UpdateProduct)
			inventory.DELETE("/products/:id", middleware.AdminOnly(), inventoryHandler.DeleteProduct)
			inventory.POST("/products/:id/stock", middleware.AdminOnly(), inventoryHandler.AdjustStock)

			inventory.GET("/categories", inventoryHandler.ListCategories)
			inventory.POST("/categories", middleware.AdminOnly(), inventoryHandler.CreateCategory)
			inventory.DELETE("/categories/:id", middleware.AdminOnly(), inventoryHandler.DeleteCategory)

			inventory.GET("/providers", inventoryHandler.ListProviders)
			inventory.POST("/providers", middleware.AdminOnly(), inventoryHandler.CreateProvider)
			inventory.DELETE("/providers/:id", middleware.AdminOnly(), inventoryHandler.DeleteProvider)
		}

		pos := protected.Group("/pos")
		{
			pos.POST("/sales", posHandler.CreateSale)
			pos.GET("/sales", posHandler.ListSales)
			pos.GET("/sales/export", posHandler.ExportCSV)
			pos.GET("/sales/:id", posHandler.GetSale)
		}

		protected.GET("/dashboard/stats", posHandler.DashboardStats)

		commissions := protected.Group("/commissions")
		{
			commissions.GET("/summary", commissionsHandler.TeamSummary)
			commissions.GET("/sales/:sellerId", commissionsHandler.SellerSales)
			commissions.POST("/mark-paid", middleware.AdminOnly(), commissionsHandler.MarkPaid)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"message":   "Server is running",
			"timestamp": time.Now(),
		})
	})

	addr := ":" + cfg.HTTP.Port
	log.Printf("Starting server on port %s", addr)
	if err := r.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
