package cron

import (
	"context"
	"fmt"
	"sync"

	cronv3 "github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mailfwd/y2g/config"
	"github.com/mailfwd/y2g/interfaces"
	"github.com/mailfwd/y2g/internal/enum"
	"github.com/mailfwd/y2g/internal/logger"
	"github.com/mailfwd/y2g/internal/tracing"
)

// GroupMonitor serializes the monitoring jobs.
const GroupMonitor = "monitor"

var jobLocks = struct {
	sync.Mutex
	locks map[string]*sync.Mutex
}{
	locks: map[string]*sync.Mutex{
		GroupMonitor: new(sync.Mutex),
	},
}

// CronManager runs the periodic state monitor: it logs the message counts per
// state and alerts when messages have permanently failed.
type CronManager struct {
	cfg      *config.Config
	log      logger.Logger
	cron     *cronv3.Cron
	stopCh   chan struct{}
	jobIDs   map[string]cronv3.EntryID
	messages interfaces.MessageRepository
	alerts   interfaces.AlertService
}

func NewCronManager(cfg *config.Config, log logger.Logger, messages interfaces.MessageRepository, alerts interfaces.AlertService) *CronManager {
	return &CronManager{
		cfg:      cfg,
		log:      log,
		stopCh:   make(chan struct{}),
		jobIDs:   make(map[string]cronv3.EntryID),
		messages: messages,
		alerts:   alerts,
	}
}

// StartCron initializes and starts the cron scheduler
func (cm *CronManager) StartCron() {
	cm.log.Info("Starting cron manager")
	cronOptions := []cronv3.Option{
		cronv3.WithSeconds(),
		cronv3.WithChain(
			cronv3.SkipIfStillRunning(cronv3.DefaultLogger),
			cronv3.Recover(cronv3.DefaultLogger),
		),
	}
	c := cronv3.New(cronOptions...)
	cm.registerJobs(c)
	c.Start()
	cm.cron = c
}

// Stop gracefully stops the cron manager
func (cm *CronManager) Stop() {
	if cm.cron != nil {
		cm.log.Info("Stopping cron manager")
		ctx := cm.cron.Stop()
		// Wait for jobs to finish
		<-ctx.Done()
	}
	close(cm.stopCh)
}

// registerJobs adds all cron jobs to the scheduler
func (cm *CronManager) registerJobs(c *cronv3.Cron) {
	schedule := cm.cfg.AppConfig.StateMonitorCronSchedule
	if schedule == "" {
		return
	}

	id, err := c.AddFunc(schedule, func() {
		defer tracing.RecoverAndLogToJaeger(cm.log)
		jobLocks.locks[GroupMonitor].Lock()
		defer jobLocks.locks[GroupMonitor].Unlock()
		cm.monitorMessageStates()
	})
	if err != nil {
		cm.log.Fatalf("Could not add state monitor cron job: %v", err)
	}
	cm.jobIDs["state_monitor"] = id
	cm.log.Infof("Registered state monitor job with schedule: %s", schedule)
}

func (cm *CronManager) monitorMessageStates() {
	ctx := context.Background()

	span, ctx := tracing.StartTracerSpan(ctx, "CronManager.monitorMessageStates")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	counts, err := cm.messages.CountByState(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		cm.log.Errorf("Failed to count message states: %v", err)
		return
	}

	fields := make([]zap.Field, 0, len(counts))
	for _, state := range []enum.MessageState{
		enum.MessageStateFetched,
		enum.MessageStateInserting,
		enum.MessageStateInserted,
		enum.MessageStateFailedRetry,
		enum.MessageStateFailedPerm,
	} {
		fields = append(fields, zap.Int64(string(state), counts[state]))
	}
	cm.log.Event("state_counts", "message state counts", "", fields...)

	if failed := counts[enum.MessageStateFailedPerm]; failed > 0 {
		cm.alerts.Alert(ctx, enum.AlertFailedPerm, "Messages permanently failed",
			fmt.Sprintf("%d message(s) in FAILED_PERM, inspect last_error and re-queue or discard them", failed))
	}

	if stale := counts[enum.MessageStateFailedRetry]; stale > 0 {
		cm.log.Warnf("%d message(s) waiting for retry", stale)
	}
}
