// Command checkjobs prints the state of the settlement maintenance jobs and
// can run one of them on demand.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/sahilchouksey/coursemarket/app"
	"github.com/sahilchouksey/coursemarket/config"
	"github.com/sahilchouksey/coursemarket/database"
	"github.com/sahilchouksey/coursemarket/model"
	"github.com/sahilchouksey/coursemarket/services/cron"
	"github.com/sahilchouksey/coursemarket/services/settlement"
	"github.com/sahilchouksey/coursemarket/utils/logging"
)

func main() {
	run := flag.String("run", "", "run one job now: "+strings.Join([]string{
		cron.JobSweepStalePayments, cron.JobRetryDiscrepancies, cron.JobExpireAbandoned, cron.JobCleanupOldData,
	}, ", "))
	limit := flag.Int("limit", 20, "rows shown per section")
	flag.Parse()

	if err := config.LoadENV(); err != nil {
		logging.Warn().Err(err).Msg(".env file could not be read")
	}

	store, err := database.StartGORM()
	if err != nil {
		logging.Error().Err(err).Msg("Failed to connect to database")
		os.Exit(1)
	}
	defer store.Close()
	db := store.GetDB()

	if *run != "" {
		if err := runJob(db, *run); err != nil {
			logging.Error().Err(err).Str("job", *run).Msg("Job run failed")
			os.Exit(1)
		}
	}

	printJobLogs(db, *limit)
	printDiscrepancies(db, *limit)
	printPending(db, *limit)
}

func runJob(db *gorm.DB, name string) error {
	paymentCfg, err := config.GetPayment()
	if err != nil {
		return err
	}
	gw, err := app.NewPaymentGateway(paymentCfg)
	if err != nil {
		return err
	}

	engine := settlement.NewEngine(db, gw, settlement.ConfigFrom(paymentCfg))
	manager := cron.NewCronManager(db, engine, cron.Config{StaleAfter: paymentCfg.StaleAfter})
	return manager.RunNow(name)
}

func printJobLogs(db *gorm.DB, limit int) {
	fmt.Println("========================================")
	fmt.Println("RECENT JOB RUNS")
	fmt.Println("========================================")

	var logs []model.CronJobLog
	if err := db.Order("started_at DESC").Limit(limit).Find(&logs).Error; err != nil {
		logging.Error().Err(err).Msg("Failed to fetch job logs")
		return
	}
	if len(logs) == 0 {
		fmt.Println("No job runs recorded")
		return
	}

	for _, l := range logs {
		statusIcon := "⏳"
		switch l.Status {
		case model.CronStatusCompleted:
			statusIcon = "✅"
		case model.CronStatusFailed:
			statusIcon = "❌"
		}
		fmt.Printf("%s %-32s %s  %5dms  %s\n", statusIcon, l.JobName, l.StartedAt.Format("2006-01-02 15:04:05"), l.Duration, truncate(l.Message, 60))
		if l.ErrorMsg != "" {
			fmt.Printf("   Error: %s\n", l.ErrorMsg)
		}
	}
}

func printDiscrepancies(db *gorm.DB, limit int) {
	var open []model.EnrollmentDiscrepancy
	db.Where("status = ?", model.DiscrepancyOpen).Order("id ASC").Limit(limit).Find(&open)

	fmt.Println("\n========================================")
	fmt.Printf("OPEN ENROLLMENT DISCREPANCIES: %d\n", len(open))
	fmt.Println("========================================")

	for _, d := range open {
		fmt.Printf("⚠️  #%d %s payment=%d user=%d course=%d attempts=%d\n", d.ID, d.Action, d.PaymentID, d.UserID, d.CourseID, d.Attempts)
		if d.LastError != "" {
			fmt.Printf("   Last error: %s\n", truncate(d.LastError, 80))
		}
	}
}

func printPending(db *gorm.DB, limit int) {
	var pending []model.Payment
	db.Where("status = ?", model.PaymentPending).Order("created_at ASC").Limit(limit).Find(&pending)

	fmt.Println("\n========================================")
	fmt.Printf("PENDING PAYMENTS: %d\n", len(pending))
	fmt.Println("========================================")

	now := time.Now().UTC()
	for _, p := range pending {
		age := now.Sub(p.CreatedAt).Truncate(time.Second)
		fmt.Printf("🔄 #%d %s %s %s user=%d course=%d age=%s\n", p.ID, p.PaymentIntentID, p.Amount.StringFixed(2), p.Currency, p.UserID, p.CourseID, age)
	}
	fmt.Println("\n========================================")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
