package main

import (
	"log"

	_ "procurement/api/swagger" // swagger docs
	"procurement/internal/config"
	"procurement/internal/database"
	"procurement/internal/handler"
	"procurement/internal/middleware"
	"procurement/internal/repository"
	"procurement/internal/service"
	"procurement/internal/storage"
	"procurement/internal/websocket"
	"procurement/internal/workflows"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.temporal.io/sdk/client"
)

// @title           Procure-to-Pay API
// @version         1.0
// @description     Purchase request approvals, purchase order issuance and receipt intake.
// @host            localhost:8080
// @BasePath        /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg := config.Load()

	// Ledger store
	var (
		ledger    repository.LedgerStore
		auditRepo repository.AuditRepository
		txManager repository.TransactionManager
	)
	switch cfg.Store {
	case config.StoreMemory:
		mem := repository.NewMemoryLedger(cfg.LockTimeout)
		ledger, auditRepo, txManager = mem, mem, mem
		log.Println("Using in-memory ledger store.")
	default:
		db, err := database.NewConnection(cfg.DSN)
		if err != nil {
			log.Fatalf("Database connection failed: %v", err)
		}
		log.Println("Connected to PostgreSQL successfully.")
		ledger = repository.NewLedgerRepository(db, cfg.LockTimeout)
		auditRepo = repository.NewAuditRepository(db)
		txManager = repository.NewTransactionManager(db)
	}

	files, err := storage.NewLocalFileStore(cfg.StorageDir)
	if err != nil {
		log.Fatalf("File storage setup failed: %v", err)
	}

	gate, err := service.NewCasbinGate(service.DefaultLevelGrants())
	if err != nil {
		log.Fatalf("Authorization setup failed: %v", err)
	}

	// Set up WebSocket Hub
	wsHub := websocket.NewHub()
	go wsHub.Run()

	// Receipt validation runs on the Temporal worker when enabled
	var dispatcher service.ReceiptValidationDispatcher = service.NopDispatcher{}
	if cfg.Temporal.Enabled {
		tc, dialErr := client.Dial(client.Options{
			HostPort:  cfg.Temporal.HostPort,
			Namespace: cfg.Temporal.Namespace,
		})
		if dialErr != nil {
			log.Fatalf("Unable to create Temporal client: %v", dialErr)
		}
		defer tc.Close()
		dispatcher = workflows.NewTemporalDispatcher(tc, cfg.Temporal.TaskQueue)
		log.Printf("Receipt validation dispatched to task queue %s", cfg.Temporal.TaskQueue)
	} else {
		log.Println("Temporal disabled, receipts stay UNVALIDATED.")
	}

	// Set up dependencies (Repository -> Service -> Handler)
	issuer := service.NewPurchaseOrderIssuer(ledger)
	approvalService := service.NewApprovalService(ledger, auditRepo, txManager, gate, issuer, wsHub)
	receiptService := service.NewReceiptService(ledger, auditRepo, txManager, dispatcher, wsHub)
	poService := service.NewPurchaseOrderService(ledger, auditRepo, service.TextRenderer{}, files)
	auditService := service.NewAuditService(auditRepo)

	// Initialize Handlers
	requestHandler := handler.NewPurchaseRequestHandler(approvalService, receiptService, files)
	poHandler := handler.NewPurchaseOrderHandler(poService)
	auditHandler := handler.NewAuditHandler(auditService)

	// Set up Gin Router
	router := gin.Default()

	// CORS configuration
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSOrigins
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	// Swagger route
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	router.GET("/health", handler.Health)

	// WebSocket endpoint
	router.GET("/ws", func(c *gin.Context) {
		websocket.ServeWs(wsHub, c, middleware.GetJWTSecret())
	})

	// API Routing
	protected := router.Group("")
	protected.Use(middleware.RequireAuth())
	requestHandler.RegisterRoutes(protected)
	poHandler.RegisterRoutes(protected)
	auditHandler.RegisterRoutes(protected)

	log.Printf("Server listening on :%s", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
