package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fleetbill/billing-engine/internal/escalation"
	"github.com/fleetbill/billing-engine/internal/handlers"
	"github.com/fleetbill/billing-engine/internal/model"
	"github.com/fleetbill/billing-engine/internal/normalizer"
	"github.com/fleetbill/billing-engine/internal/recon"
	"github.com/fleetbill/billing-engine/internal/repository"
	"github.com/fleetbill/billing-engine/pkg/pg"
	"github.com/fleetbill/billing-engine/pkg/redis"
	"github.com/fleetbill/billing-engine/test/fixtures"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var testNow = time.Date(2026, 3, 20, 10, 0, 0, 0, time.UTC)

type testDB = pg.DB

type recordingNotifier struct {
	mu   sync.Mutex
	sent []escalation.Notification
}

func (r *recordingNotifier) Send(_ context.Context, n escalation.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) Sent() []escalation.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]escalation.Notification, len(r.sent))
	copy(out, r.sent)
	return out
}

type TestEnvironment struct {
	DB             *pg.DB
	Redis          *miniredis.Miniredis
	RedisAdapter   redis.RedisAdapter
	TenantRepo     *repository.TenantRepository
	ClientRepo     *repository.ClientRepository
	PaymentRepo    *repository.PaymentRepository
	EscalationRepo *repository.EscalationRepository
	ExecLogRepo    *repository.ExecutionLogRepository
	Reconciler     *recon.Reconciler
	Scheduler      *escalation.Scheduler
	Notifier       *recordingNotifier
	WebhookHandler *handlers.WebhookHandler
}

func setupE2EEnvironment(t *testing.T) *TestEnvironment {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&repository.TenantEntity{},
		&repository.ClientEntity{},
		&repository.PaymentEntity{},
		&repository.EscalationEntity{},
		&repository.ExecutionLogEntity{},
	)
	require.NoError(t, err)

	pgDB := &testDB{}
	pgDBValue := reflect.ValueOf(pgDB).Elem()

	readField := pgDBValue.FieldByName("read")
	writeField := pgDBValue.FieldByName("write")

	readField = reflect.NewAt(readField.Type(), readField.Addr().UnsafePointer()).Elem()
	writeField = reflect.NewAt(writeField.Type(), writeField.Addr().UnsafePointer()).Elem()

	readField.Set(reflect.ValueOf(db))
	writeField.Set(reflect.ValueOf(db))

	mr, err := miniredis.Run()
	require.NoError(t, err)

	// Unique connection name per test to avoid global adapter caching
	connName := fmt.Sprintf("test-%d", time.Now().UnixNano())
	redisAdapter, err := redis.NewRedisAdapter(connName, "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	tenantRepo := repository.NewTenantRepository(pgDB)
	clientRepo := repository.NewClientRepository(pgDB)
	paymentRepo := repository.NewPaymentRepository(pgDB)
	escalationRepo := repository.NewEscalationRepository(pgDB)
	execLogRepo := repository.NewExecutionLogRepository(pgDB)

	effects := recon.NewEffectExecutor(paymentRepo, clientRepo, tenantRepo, 15, func() time.Time { return testNow })
	reconciler := recon.NewReconciler(paymentRepo, effects, execLogRepo, 3).
		WithClock(func() time.Time { return testNow })

	notifier := &recordingNotifier{}
	scheduler := escalation.NewScheduler(tenantRepo, paymentRepo, clientRepo, escalationRepo, execLogRepo, notifier, redisAdapter, escalation.SchedulerConfig{
		MinRunGap: time.Minute,
		Workers:   1,
	}).WithClock(func() time.Time { return testNow })

	registry := normalizer.NewRegistry(normalizer.NewCanonicalAdapter("canonical"))
	webhookHandler := handlers.NewWebhookHandler(registry, reconciler, redisAdapter, "webhook:raw", 100)

	return &TestEnvironment{
		DB:             pgDB,
		Redis:          mr,
		RedisAdapter:   redisAdapter,
		TenantRepo:     tenantRepo,
		ClientRepo:     clientRepo,
		PaymentRepo:    paymentRepo,
		EscalationRepo: escalationRepo,
		ExecLogRepo:    execLogRepo,
		Reconciler:     reconciler,
		Scheduler:      scheduler,
		Notifier:       notifier,
		WebhookHandler: webhookHandler,
	}
}

func (env *TestEnvironment) Cleanup() {
	if env.Redis != nil {
		env.Redis.Close()
	}
}

func (env *TestEnvironment) seed(t *testing.T, tenant model.Tenant, client *model.Client, payment *model.PaymentTransaction) *model.PaymentTransaction {
	ctx := context.Background()
	_, err := env.TenantRepo.Create(ctx, &tenant)
	require.NoError(t, err)
	_, err = env.ClientRepo.Create(ctx, client)
	require.NoError(t, err)
	created, err := env.PaymentRepo.Create(ctx, payment)
	require.NoError(t, err)
	return created
}

func (env *TestEnvironment) postWebhook(body string) *fasthttp.RequestCtx {
	var req fasthttp.Request
	req.Header.SetMethod("POST")
	req.SetRequestURI("/api/v1/webhooks/canonical")
	req.Header.SetContentType("application/json")
	req.SetBodyString(body)

	// Init wires the ctx to fasthttp's fake server so it is usable as a
	// context.Context; a zero RequestCtx panics in Done().
	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, nil, nil)
	ctx.SetUserValue("gateway", "canonical")
	env.WebhookHandler.HandleWebhook(ctx)
	return ctx
}

func TestE2E_WebhookSettlementFlow(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()

	chargeID := "ch_e2e_1"
	payment := fixtures.NewTestPayment(1, 10, model.PaymentStatusOverdue, testNow.AddDate(0, 0, -5))
	payment.GatewayChargeID = &chargeID
	created := env.seed(t, fixtures.TestTenant,
		fixtures.NewTestClient(10, 1, model.ServiceStatusSuspended),
		payment)

	body := fmt.Sprintf(`{"event":"PAYMENT_CONFIRMED","payment":{"id":%q,"externalReference":"inv-test"}}`, chargeID)
	httpCtx := env.postWebhook(body)

	assert.Equal(t, 200, httpCtx.Response.StatusCode())

	var resp struct {
		Success   bool   `json:"success"`
		Message   string `json:"message"`
		PaymentID int64  `json:"payment_id"`
	}
	require.NoError(t, json.Unmarshal(httpCtx.Response.Body(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "applied", resp.Message)
	assert.Equal(t, created.ID, resp.PaymentID)

	// transaction settled
	found, err := env.PaymentRepo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPaid, found.Status)
	require.NotNil(t, found.PaidAt)

	// client had no other overdue transaction, so it is unblocked
	client, err := env.ClientRepo.GetByID(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, model.ServiceStatusActive, client.ServiceStatus)

	// applied transition leaves an audit entry
	logs, err := env.ExecLogRepo.ListRecent(ctx, "webhook_reconcile", 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, model.JobStatusSuccess, logs[0].Status)

	// raw payload archived
	assert.True(t, env.Redis.Exists("webhook:raw"))

	// replaying the same webhook is a no-op with no second audit entry
	httpCtx = env.postWebhook(body)
	assert.Equal(t, 200, httpCtx.Response.StatusCode())
	require.NoError(t, json.Unmarshal(httpCtx.Response.Body(), &resp))
	assert.Equal(t, "unchanged", resp.Message)

	logs, err = env.ExecLogRepo.ListRecent(ctx, "webhook_reconcile", 10)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestE2E_MalformedWebhookReturns200(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	httpCtx := env.postWebhook(`{"event":`)
	assert.Equal(t, 200, httpCtx.Response.StatusCode())

	var resp struct {
		Success bool `json:"success"`
	}
	require.NoError(t, json.Unmarshal(httpCtx.Response.Body(), &resp))
	assert.True(t, resp.Success)
}

func TestE2E_EscalationStatusMoveWithoutNotification(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()

	// 20 days overdue lands in the final pre-suspension band, but 20 is
	// not a notification threshold day
	env.seed(t, fixtures.TestTenant,
		fixtures.NewTestClient(20, 1, model.ServiceStatusActive),
		fixtures.NewTestPayment(1, 20, model.PaymentStatusOverdue, testNow.AddDate(0, 0, -20)))

	results, err := env.Scheduler.Run(ctx, escalation.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, results.Processed)
	assert.Equal(t, 1, results.StatusUpdated)
	assert.Equal(t, 0, results.Notifications)
	assert.Equal(t, 0, results.Errors)

	client, err := env.ClientRepo.GetByID(ctx, 20)
	require.NoError(t, err)
	assert.Equal(t, model.ServiceStatusWarning, client.ServiceStatus)

	records, total, err := env.EscalationRepo.List(ctx, model.EscalationFilter{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, model.ActionStatusChanged, records[0].ActionType)
	assert.Empty(t, env.Notifier.Sent())

	// second run same day: status already holds, nothing new
	results, err = env.Scheduler.Run(ctx, escalation.Options{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 0, results.StatusUpdated)
	assert.Equal(t, 0, results.Notifications)

	_, total, err = env.EscalationRepo.List(ctx, model.EscalationFilter{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestE2E_EscalationThresholdDayNotifiesOnce(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()

	// 14 days overdue: urgent band and a notification threshold day
	env.seed(t, fixtures.TestTenant,
		fixtures.NewTestClient(30, 1, model.ServiceStatusActive),
		fixtures.NewTestPayment(1, 30, model.PaymentStatusOverdue, testNow.AddDate(0, 0, -14)))

	results, err := env.Scheduler.Run(ctx, escalation.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, results.StatusUpdated)
	assert.Equal(t, 1, results.Notifications)

	sent := env.Notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "post_due_urgent", sent[0].Template)
	assert.Equal(t, int64(30), sent[0].ClientID)
	assert.Equal(t, 14, sent[0].DaysOverdue)

	// second run same day: the ledger blocks a duplicate notification
	results, err = env.Scheduler.Run(ctx, escalation.Options{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 0, results.Notifications)
	assert.Len(t, env.Notifier.Sent(), 1)

	action := model.ActionNotificationSent
	_, total, err := env.EscalationRepo.List(ctx, model.EscalationFilter{ActionType: &action, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestE2E_SuspensionRequiresTenantOptIn(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()

	// 25 days overdue asks for suspension, but the tenant has not
	// enabled it, so the move is capped at warning
	env.seed(t, fixtures.TestTenantNoSuspension,
		fixtures.NewTestClient(40, 2, model.ServiceStatusActive),
		fixtures.NewTestPayment(2, 40, model.PaymentStatusOverdue, testNow.AddDate(0, 0, -25)))

	results, err := env.Scheduler.Run(ctx, escalation.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, results.StatusUpdated)

	client, err := env.ClientRepo.GetByID(ctx, 40)
	require.NoError(t, err)
	assert.Equal(t, model.ServiceStatusWarning, client.ServiceStatus)
}

func TestE2E_EscalationSuspendsWhenEnabled(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()

	env.seed(t, fixtures.TestTenant,
		fixtures.NewTestClient(50, 1, model.ServiceStatusWarning),
		fixtures.NewTestPayment(1, 50, model.PaymentStatusOverdue, testNow.AddDate(0, 0, -25)))

	results, err := env.Scheduler.Run(ctx, escalation.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, results.StatusUpdated)
	assert.Equal(t, 1, results.Notifications)

	client, err := env.ClientRepo.GetByID(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, model.ServiceStatusSuspended, client.ServiceStatus)

	sent := env.Notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "suspended", sent[0].Template)
}

func TestE2E_EscalationSkipsDisabledTenant(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()

	env.seed(t, fixtures.TestTenantEscalationOff,
		fixtures.NewTestClient(60, 3, model.ServiceStatusActive),
		fixtures.NewTestPayment(3, 60, model.PaymentStatusOverdue, testNow.AddDate(0, 0, -14)))

	results, err := env.Scheduler.Run(ctx, escalation.Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, results.Processed)

	client, err := env.ClientRepo.GetByID(ctx, 60)
	require.NoError(t, err)
	assert.Equal(t, model.ServiceStatusActive, client.ServiceStatus)
}

func TestE2E_RunLockRateLimitsBackToBackRuns(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()
	_, err := env.TenantRepo.Create(ctx, &model.Tenant{Name: "solo", Active: true, GraceDays: 15, EscalationEnabled: true})
	require.NoError(t, err)

	_, err = env.Scheduler.Run(ctx, escalation.Options{})
	require.NoError(t, err)

	_, err = env.Scheduler.Run(ctx, escalation.Options{})
	assert.ErrorIs(t, err, escalation.ErrRateLimited)

	// force bypasses the gap lock
	_, err = env.Scheduler.Run(ctx, escalation.Options{Force: true})
	require.NoError(t, err)
}
