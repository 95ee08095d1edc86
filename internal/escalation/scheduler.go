package escalation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fleetbill/billing-engine/internal/model"
	"github.com/fleetbill/billing-engine/internal/repository"
	"github.com/fleetbill/billing-engine/pkg/logger"
	"github.com/fleetbill/billing-engine/pkg/prom"
	"github.com/fleetbill/billing-engine/pkg/redis"
	"github.com/fleetbill/billing-engine/pkg/worker"
)

// ErrRateLimited means a run was refused because another run finished
// too recently and the caller did not force.
var ErrRateLimited = errors.New("escalation run rate limited")

const (
	runJobName = "escalation_run"
	runLockKey = "escalation:run-lock"
)

// Options controls one scheduler run.
type Options struct {
	// Trigger names what started the run: "cron", "manual", "api".
	Trigger string `json:"trigger"`
	// Force bypasses the rate-limit lock, for manual runs.
	Force bool `json:"force"`
}

// Results is the per-run summary returned to the caller and persisted
// in the execution log.
type Results struct {
	Processed     int `json:"processed"`
	StatusUpdated int `json:"statusUpdated"`
	Notifications int `json:"notifications"`
	Errors        int `json:"errors"`
}

// Notification is the outbound payload handed to the transport layer.
// The scheduler has already committed the decision to send by the time
// one of these exists; a failed send is retried by the transport, never
// by re-running escalation.
type Notification struct {
	TenantID    int64  `json:"tenant_id"`
	ClientID    int64  `json:"client_id"`
	PaymentID   int64  `json:"payment_id"`
	Recipient   string `json:"recipient"`
	Template    string `json:"template"`
	DaysOverdue int    `json:"days_overdue"`
	Amount      int64  `json:"amount"`
}

type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

type TenantSource interface {
	ListEscalationEnabled(ctx context.Context) ([]*model.Tenant, error)
}

type PaymentSource interface {
	WorstOverduePerClient(ctx context.Context, tenantID int64, today time.Time) (map[int64]*model.PaymentTransaction, error)
}

type ClientStore interface {
	GetByID(ctx context.Context, id int64) (*model.Client, error)
	EscalateStatus(ctx context.Context, clientID int64, expected, next model.ServiceStatus) error
}

// Ledger is the append-only escalation record store. Appending a
// notification_sent entry is the commit point for sending.
type Ledger interface {
	Append(ctx context.Context, rec *model.EscalationRecord) (*model.EscalationRecord, error)
	NotificationExists(ctx context.Context, clientID int64, daysOverdue int, windowStart time.Time) (bool, error)
}

type ExecutionLogStore interface {
	Append(ctx context.Context, log *model.ExecutionLog) (*model.ExecutionLog, error)
}

type SchedulerConfig struct {
	// MinRunGap is the shortest allowed interval between two
	// non-forced runs.
	MinRunGap time.Duration
	// Workers is the tenant fan-out width.
	Workers int
}

// Scheduler walks every escalation-enabled tenant, evaluates each
// client's worst overdue transaction against the policy table and
// applies forward-only status moves plus threshold-day notifications.
// Runs are safe to overlap: every write is either a CAS or an
// append into a unique-indexed ledger.
type Scheduler struct {
	tenants  TenantSource
	payments PaymentSource
	clients  ClientStore
	ledger   Ledger
	execLogs ExecutionLogStore
	notifier Notifier
	locker   redis.RedisAdapter
	cfg      SchedulerConfig
	now      func() time.Time
}

func NewScheduler(tenants TenantSource, payments PaymentSource, clients ClientStore, ledger Ledger, execLogs ExecutionLogStore, notifier Notifier, locker redis.RedisAdapter, cfg SchedulerConfig) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MinRunGap <= 0 {
		cfg.MinRunGap = time.Minute
	}
	return &Scheduler{
		tenants:  tenants,
		payments: payments,
		clients:  clients,
		ledger:   ledger,
		execLogs: execLogs,
		notifier: notifier,
		locker:   locker,
		cfg:      cfg,
		now:      time.Now,
	}
}

// WithClock overrides the clock, for tests.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

type counters struct {
	processed     atomic.Int64
	statusUpdated atomic.Int64
	notifications atomic.Int64
	errors        atomic.Int64
}

func (c *counters) results() *Results {
	return &Results{
		Processed:     int(c.processed.Load()),
		StatusUpdated: int(c.statusUpdated.Load()),
		Notifications: int(c.notifications.Load()),
		Errors:        int(c.errors.Load()),
	}
}

func (s *Scheduler) Run(ctx context.Context, opts Options) (*Results, error) {
	started := s.now()
	if opts.Trigger == "" {
		opts.Trigger = "cron"
	}

	if !opts.Force && s.locker != nil {
		acquired, err := s.locker.SetNX(runLockKey, []byte(opts.Trigger), s.cfg.MinRunGap)
		if err != nil {
			// a dead lock store must not stop enforcement
			logger.Warn("escalation run lock unavailable, proceeding", "error", err)
		} else if !acquired {
			logger.Info("escalation run skipped, previous run too recent", "trigger", opts.Trigger)
			return nil, ErrRateLimited
		}
	}

	tenants, err := s.tenants.ListEscalationEnabled(ctx)
	if err != nil {
		return nil, err
	}

	today := startOfDay(started)
	acc := &counters{}

	var wg sync.WaitGroup
	pool := worker.NewPool(len(tenants)+1, s.cfg.Workers, nil)
	pool.SetWorker(func(_ int, job interface{}) {
		defer wg.Done()
		tenant := job.(*model.Tenant)
		if err := s.runTenant(ctx, tenant, today, acc); err != nil {
			acc.errors.Add(1)
			logger.Error("tenant escalation failed", "tenant_id", tenant.ID, "error", err)
		}
	})
	go func() {
		if err := pool.Start(); err != nil {
			logger.Error("escalation worker pool stopped", "error", err)
		}
	}()

	wg.Add(len(tenants))
	for _, t := range tenants {
		pool.Enqueue(t)
	}
	wg.Wait()
	pool.Exit()

	results := acc.results()
	elapsed := s.now().Sub(started)
	prom.AddEscalationRunDuration(elapsed.Seconds(), opts.Trigger)
	s.recordRun(ctx, opts, results, started, elapsed)

	logger.Info("escalation run finished",
		"trigger", opts.Trigger,
		"tenants", len(tenants),
		"processed", results.Processed,
		"status_updated", results.StatusUpdated,
		"notifications", results.Notifications,
		"errors", results.Errors,
		"elapsed_ms", elapsed.Milliseconds())
	return results, nil
}

// runTenant evaluates every client of one tenant. Failures stay inside
// the tenant: one bad tenant never aborts the rest of the batch.
func (s *Scheduler) runTenant(ctx context.Context, tenant *model.Tenant, today time.Time, acc *counters) error {
	worst, err := s.payments.WorstOverduePerClient(ctx, tenant.ID, today)
	if err != nil {
		return err
	}

	for clientID, txn := range worst {
		if err := ctx.Err(); err != nil {
			return err
		}
		acc.processed.Add(1)
		if err := s.runClient(ctx, tenant, clientID, txn, today, acc); err != nil {
			acc.errors.Add(1)
			logger.Error("client escalation failed",
				"tenant_id", tenant.ID, "client_id", clientID, "error", err)
		}
	}
	return nil
}

func (s *Scheduler) runClient(ctx context.Context, tenant *model.Tenant, clientID int64, txn *model.PaymentTransaction, today time.Time, acc *counters) error {
	daysOverdue := txn.DaysOverdue(today)
	level := Evaluate(daysOverdue)
	if level == nil {
		return nil
	}

	client, err := s.clients.GetByID(ctx, clientID)
	if err != nil {
		return err
	}

	target := level.Status
	if target == model.ServiceStatusSuspended && !tenant.SuspensionEnabled {
		target = model.ServiceStatusWarning
	}

	if target.Severity() > client.ServiceStatus.Severity() {
		err := s.clients.EscalateStatus(ctx, clientID, client.ServiceStatus, target)
		switch {
		case err == nil:
			if _, err := s.ledger.Append(ctx, &model.EscalationRecord{
				TenantID:        tenant.ID,
				ClientID:        clientID,
				PaymentID:       txn.ID,
				PreviousStatus:  client.ServiceStatus,
				NewStatus:       target,
				EscalationLevel: level.Level,
				DaysOverdue:     daysOverdue,
				ActionType:      model.ActionStatusChanged,
				ActionDate:      today,
			}); err != nil && !errors.Is(err, repository.ErrDuplicateAction) {
				return err
			}
			acc.statusUpdated.Add(1)
			prom.AddEscalationStatusChange(level.Name)
		case errors.Is(err, repository.ErrConcurrentUpdate):
			// an overlapping run moved the client first; its severity
			// can only be equal or higher, nothing to redo
		default:
			return err
		}
	}

	if !IsThresholdDay(daysOverdue) {
		return nil
	}

	exists, err := s.ledger.NotificationExists(ctx, clientID, daysOverdue, today)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	// the append is the commit point: once this row exists the
	// notification counts as sent, whatever the transport does
	if _, err := s.ledger.Append(ctx, &model.EscalationRecord{
		TenantID:        tenant.ID,
		ClientID:        clientID,
		PaymentID:       txn.ID,
		PreviousStatus:  client.ServiceStatus,
		NewStatus:       client.ServiceStatus,
		EscalationLevel: level.Level,
		DaysOverdue:     daysOverdue,
		ActionType:      model.ActionNotificationSent,
		ActionDate:      today,
	}); err != nil {
		if errors.Is(err, repository.ErrDuplicateAction) {
			// a concurrent run raced past the query check; the unique
			// index decided who sends
			return nil
		}
		return err
	}
	acc.notifications.Add(1)
	prom.AddEscalationNotification(level.Template)

	if s.notifier != nil {
		if err := s.notifier.Send(ctx, Notification{
			TenantID:    tenant.ID,
			ClientID:    clientID,
			PaymentID:   txn.ID,
			Recipient:   client.NotifyAddress,
			Template:    level.Template,
			DaysOverdue: daysOverdue,
			Amount:      txn.Amount,
		}); err != nil {
			// already committed; the transport owns redelivery
			logger.Warn("notification send failed",
				"client_id", clientID, "template", level.Template, "error", err)
		}
	}
	return nil
}

func (s *Scheduler) recordRun(ctx context.Context, opts Options, results *Results, started time.Time, elapsed time.Duration) {
	status := model.JobStatusSuccess
	if results.Errors > 0 {
		status = model.JobStatusError
	}
	body, _ := json.Marshal(struct {
		Trigger string   `json:"trigger"`
		Results *Results `json:"results"`
	}{opts.Trigger, results})

	if _, err := s.execLogs.Append(ctx, &model.ExecutionLog{
		JobName:         runJobName,
		Status:          status,
		StartedAt:       started,
		FinishedAt:      started.Add(elapsed),
		ExecutionTimeMs: elapsed.Milliseconds(),
		ResponseBody:    string(body),
	}); err != nil {
		logger.Warn("failed to record escalation run", "error", err)
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
