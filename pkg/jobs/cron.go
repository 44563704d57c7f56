package jobs

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/refwise/refwise/pkg/metrics"
	"github.com/refwise/refwise/pkg/rewards"
)

// CronManager manages scheduled jobs
type CronManager struct {
	cron    *cron.Cron
	ledger  *rewards.Service
	metrics *metrics.Metrics
	logger  *log.Logger

	reconcileSpec  string
	reconcileGrace time.Duration
}

// NewCronManager creates a new cron manager
func NewCronManager(ledger *rewards.Service, m *metrics.Metrics, logger *log.Logger, reconcileSpec string, reconcileGrace time.Duration) *CronManager {
	if logger == nil {
		logger = log.Default()
	}

	return &CronManager{
		cron:           cron.New(),
		ledger:         ledger,
		metrics:        m,
		logger:         logger,
		reconcileSpec:  reconcileSpec,
		reconcileGrace: reconcileGrace,
	}
}

// SetupJobs configures all scheduled jobs
func (cm *CronManager) SetupJobs() error {
	cm.logger.Println("Setting up cron jobs...")

	// Ledger reconciliation: complete approved entries whose balance
	// application or coupon issuance was interrupted.
	_, err := cm.cron.AddFunc(cm.reconcileSpec, func() {
		cm.logger.Println("🕐 Running ledger reconciliation job...")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		completed, err := cm.ledger.Reconcile(ctx, cm.reconcileGrace)
		if err != nil {
			cm.logger.Printf("❌ Ledger reconciliation failed: %v", err)
			return
		}

		if completed == 0 {
			cm.logger.Println("✅ No stuck ledger entries found")
			return
		}

		for i := 0; i < completed; i++ {
			cm.metrics.LedgerReconciled.Inc()
		}
		cm.logger.Printf("✅ Ledger reconciliation completed %d entries", completed)
	})

	return err
}

// Start begins executing scheduled jobs
func (cm *CronManager) Start() {
	cm.cron.Start()
}

// Stop halts all scheduled jobs
func (cm *CronManager) Stop() {
	cm.cron.Stop()
}
