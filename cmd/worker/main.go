package main

import (
	"log"
	"os"

	"procurement/internal/activities"
	"procurement/internal/config"
	"procurement/internal/database"
	"procurement/internal/repository"
	"procurement/internal/service"
	"procurement/internal/workflows"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

func main() {
	cfg := config.Load()
	if cfg.Store == config.StoreMemory {
		log.Fatalln("The receipt worker needs the postgres store, STORE=memory is not shared between processes")
	}

	db, err := database.NewConnection(cfg.DSN)
	if err != nil {
		log.Fatalf("Database connection failed: %v", err)
	}

	ledger := repository.NewLedgerRepository(db, cfg.LockTimeout)
	receiptService := service.NewReceiptService(
		ledger,
		repository.NewAuditRepository(db),
		repository.NewTransactionManager(db),
		service.NopDispatcher{},
		nil,
	)

	// Create Temporal client
	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		log.Fatalln("Unable to create Temporal client", err)
	}
	defer c.Close()

	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{
		Identity:                               "receipt-worker-" + hostname(),
		MaxConcurrentActivityExecutionSize:     20,
		MaxConcurrentWorkflowTaskExecutionSize: 10,
	})

	w.RegisterWorkflow(workflows.ReceiptValidationWorkflow)

	receiptActivities := &activities.ReceiptActivities{
		Receipts:  receiptService,
		Extractor: activities.NopExtractor{},
	}
	w.RegisterActivity(receiptActivities.ExtractReceipt)
	w.RegisterActivity(receiptActivities.ReconcileReceipt)

	log.Println("Worker starting on task queue:", cfg.Temporal.TaskQueue)

	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatalln("Unable to start worker", err)
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
