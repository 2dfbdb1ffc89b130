package main

import (
	"context"
	"database/sql"
	"log"
	"time"

	ordersdb "duka/internal/db/orders"
	paymentsdb "duka/internal/db/payments"
	"duka/internal/payments"
)

var openPaymentsDB = func(driver, dsn string) (*sql.DB, error) {
	return sql.Open(driver, dsn)
}

// buildPaymentService wires the orchestrator with Postgres stores when a
// DSN is configured, falling back to in-memory stores otherwise. The
// returned cleanup closes the database connection.
func buildPaymentService(ctx context.Context, dsn string, gateway payments.Gateway, notifier payments.Notifier, logf func(format string, args ...any)) (*payments.Service, func()) {
	if logf == nil {
		logf = log.Printf
	}

	cleanup := func() {}
	var ledger payments.TransactionStore = payments.NewMemoryTransactionStore()
	var orderStore payments.OrderStore = payments.NewMemoryOrderStore()

	if dsn != "" {
		sqlDB, err := openPaymentsDB("pgx", dsn)
		if err != nil {
			logf("postgres open failed, falling back to in-memory stores: %v", err)
		} else {
			setupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			txStore, txErr := paymentsdb.NewTransactionStoreWithSchema(setupCtx, sqlDB)
			oStore, oErr := ordersdb.NewOrderStoreWithSchema(setupCtx, sqlDB)
			if txErr != nil || oErr != nil {
				logf("postgres init failed, falling back to in-memory stores: tx=%v orders=%v", txErr, oErr)
				_ = sqlDB.Close()
			} else {
				logf("postgres payment stores enabled")
				ledger = txStore
				orderStore = oStore
				cleanup = func() {
					if err := sqlDB.Close(); err != nil {
						logf("close postgres: %v", err)
					}
				}
			}
		}
	}

	return payments.NewService(gateway, ledger, orderStore, notifier, logf), cleanup
}
