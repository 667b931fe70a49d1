//go:build integration

package db

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/vantagehr/entitled/internal/models"
)

var testDB *DB

func TestMain(m *testing.M) {
	if !dockerAvailable() {
		fmt.Println("Docker is not available, skipping integration tests")
		os.Exit(0)
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("entitled_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		log.Fatalf("failed to start postgres container: %v", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		pgContainer.Terminate(ctx)
		log.Fatalf("failed to get connection string: %v", err)
	}

	logger := zerolog.New(zerolog.NewConsoleWriter())
	cfg := DefaultConfig(connStr)
	cfg.MaxConns = 5
	cfg.MinConns = 1

	testDB, err = New(ctx, cfg, logger)
	if err != nil {
		pgContainer.Terminate(ctx)
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := testDB.Migrate(ctx); err != nil {
		testDB.Close()
		pgContainer.Terminate(ctx)
		log.Fatalf("failed to run migrations: %v", err)
	}

	code := m.Run()

	testDB.Close()
	pgContainer.Terminate(ctx)

	os.Exit(code)
}

// dockerAvailable returns true if a Docker daemon is reachable.
func dockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	return cmd.Run() == nil
}

// setupTestDB returns the shared test database after cleaning all tables.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	cleanTables(t, testDB)
	return testDB
}

// cleanTables truncates all user tables between tests for isolation.
func cleanTables(t *testing.T, db *DB) {
	t.Helper()
	ctx := context.Background()
	_, err := db.Pool.Exec(ctx, `
		DO $$ DECLARE r RECORD;
		BEGIN
			FOR r IN (SELECT tablename FROM pg_tables WHERE schemaname = 'public' AND tablename != 'schema_migrations') LOOP
				EXECUTE 'TRUNCATE TABLE ' || quote_ident(r.tablename) || ' CASCADE';
			END LOOP;
		END $$;
	`)
	require.NoError(t, err)
}

func createTestTenant(t *testing.T, db *DB, name, slug string) *models.Tenant {
	t.Helper()
	tenant := models.NewTenant(name, slug)
	require.NoError(t, db.CreateTenant(context.Background(), tenant))
	return tenant
}

func createTestUser(t *testing.T, db *DB, tenantID uuid.UUID, email string, active bool) *models.User {
	t.Helper()
	user := &models.User{
		ID:        uuid.New(),
		Email:     email,
		Name:      "Test User",
		IsActive:  active,
		CreatedAt: time.Now(),
	}
	require.NoError(t, db.CreateUser(context.Background(), user))
	require.NoError(t, db.AddUserToTenant(context.Background(), user.ID, tenantID, "member"))
	return user
}

func createTestPlan(t *testing.T, db *DB, name string, features ...models.PlanFeature) *models.Plan {
	t.Helper()
	plan := &models.Plan{
		ID:       uuid.New(),
		Name:     name,
		IsActive: true,
	}
	for i := range features {
		features[i].ID = uuid.New()
		features[i].PlanID = plan.ID
	}
	plan.Features = features
	require.NoError(t, db.CreatePlan(context.Background(), plan))
	return plan
}

func intPtr(n int) *int { return &n }

func datePtr(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func activeSubscription(tenantID, planID uuid.UUID, start time.Time, end *time.Time) *models.TenantSubscription {
	return &models.TenantSubscription{
		ID:          uuid.New(),
		TenantID:    tenantID,
		PlanID:      planID,
		Status:      models.SubscriptionActive,
		PeriodStart: start,
		PeriodEnd:   end,
	}
}

func TestStore_Tenants(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tenant := createTestTenant(t, db, "Acme", "acme")

	got, err := db.GetTenantByID(ctx, tenant.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, tenant.ID, got.ID)
	assert.Equal(t, models.TenantStatusActive, got.Status)

	exists, err := db.TenantExists(ctx, tenant.ID)
	require.NoError(t, err)
	assert.True(t, exists)

	missing, err := db.GetTenantByID(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_CountActiveUsers(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tenant := createTestTenant(t, db, "Acme", "acme")
	other := createTestTenant(t, db, "Globex", "globex")

	createTestUser(t, db, tenant.ID, "a@acme.test", true)
	createTestUser(t, db, tenant.ID, "b@acme.test", true)
	createTestUser(t, db, tenant.ID, "c@acme.test", false)
	createTestUser(t, db, other.ID, "z@globex.test", true)

	count, err := db.CountActiveUsers(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "inactive users and other tenants must not count")
}

func TestStore_FindActivePlanFeature(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tenant := createTestTenant(t, db, "Acme", "acme")
	plan := createTestPlan(t, db, "growth",
		models.PlanFeature{FeatureKey: "perf", UserQuota: intPtr(25), Enabled: true},
		models.PlanFeature{FeatureKey: "comp", Enabled: false},
	)

	// No subscription yet: no entitlement.
	pf, err := db.FindActivePlanFeature(ctx, tenant.ID, "perf")
	require.NoError(t, err)
	assert.Nil(t, pf)

	start := time.Now().UTC().AddDate(0, -1, 0).Truncate(24 * time.Hour)
	inserted, err := db.InsertSubscriptionIfNoOverlap(ctx, activeSubscription(tenant.ID, plan.ID, start, nil))
	require.NoError(t, err)
	require.True(t, inserted)

	pf, err = db.FindActivePlanFeature(ctx, tenant.ID, "perf")
	require.NoError(t, err)
	require.NotNil(t, pf)
	assert.Equal(t, "perf", pf.FeatureKey)
	require.NotNil(t, pf.UserQuota)
	assert.Equal(t, 25, *pf.UserQuota)

	// Disabled plan feature is not an entitlement.
	pf, err = db.FindActivePlanFeature(ctx, tenant.ID, "comp")
	require.NoError(t, err)
	assert.Nil(t, pf)

	// Feature not on the plan at all.
	pf, err = db.FindActivePlanFeature(ctx, tenant.ID, "recruiting")
	require.NoError(t, err)
	assert.Nil(t, pf)
}

func TestStore_SubscriptionOverlap(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tenant := createTestTenant(t, db, "Acme", "acme")
	plan := createTestPlan(t, db, "growth")

	first := activeSubscription(tenant.ID, plan.ID,
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), datePtr(2025, 6, 1))
	inserted, err := db.InsertSubscriptionIfNoOverlap(ctx, first)
	require.NoError(t, err)
	require.True(t, inserted)

	// Open-ended subscription starting inside the existing period.
	inserted, err = db.InsertSubscriptionIfNoOverlap(ctx, activeSubscription(tenant.ID, plan.ID,
		time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), nil))
	require.NoError(t, err)
	assert.False(t, inserted)

	// Starting exactly at the half-open boundary is fine.
	inserted, err = db.InsertSubscriptionIfNoOverlap(ctx, activeSubscription(tenant.ID, plan.ID,
		time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), nil))
	require.NoError(t, err)
	assert.True(t, inserted)

	// Another tenant is unaffected.
	other := createTestTenant(t, db, "Globex", "globex")
	inserted, err = db.InsertSubscriptionIfNoOverlap(ctx, activeSubscription(other.ID, plan.ID,
		time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), nil))
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestStore_SubscriptionOverlapConcurrent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tenant := createTestTenant(t, db, "Acme", "acme")
	plan := createTestPlan(t, db, "growth")

	const attempts = 8
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := db.InsertSubscriptionIfNoOverlap(ctx, activeSubscription(tenant.ID, plan.ID, start, nil))
			if err != nil {
				t.Errorf("InsertSubscriptionIfNoOverlap() error = %v", err)
				return
			}
			if ok {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, accepted, "exactly one concurrent overlapping insert may win")
}

func TestStore_CancelSubscription(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tenant := createTestTenant(t, db, "Acme", "acme")
	plan := createTestPlan(t, db, "growth")

	sub := activeSubscription(tenant.ID, plan.ID, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), nil)
	inserted, err := db.InsertSubscriptionIfNoOverlap(ctx, sub)
	require.NoError(t, err)
	require.True(t, inserted)

	endAt := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	canceled, err := db.CancelSubscription(ctx, sub.ID, endAt)
	require.NoError(t, err)
	assert.True(t, canceled)

	got, err := db.GetSubscriptionByID(ctx, sub.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.SubscriptionCanceled, got.Status)
	require.NotNil(t, got.PeriodEnd)
	assert.True(t, got.PeriodEnd.Equal(endAt))

	// Canceling again reports no rows changed.
	canceled, err = db.CancelSubscription(ctx, sub.ID, endAt.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.False(t, canceled)

	// A canceled subscription no longer blocks new assignments.
	inserted, err = db.InsertSubscriptionIfNoOverlap(ctx, activeSubscription(tenant.ID, plan.ID,
		time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), nil))
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestStore_ListSubscriptionsByTenant(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tenant := createTestTenant(t, db, "Acme", "acme")
	plan := createTestPlan(t, db, "growth",
		models.PlanFeature{FeatureKey: "perf", UserQuota: intPtr(10), Enabled: true},
	)

	inserted, err := db.InsertSubscriptionIfNoOverlap(ctx, activeSubscription(tenant.ID, plan.ID,
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), nil))
	require.NoError(t, err)
	require.True(t, inserted)

	details, err := db.ListSubscriptionsByTenant(ctx, tenant.ID)
	require.NoError(t, err)
	require.Len(t, details, 1)
	assert.Equal(t, "growth", details[0].PlanName)
	require.Len(t, details[0].Features, 1)
	assert.Equal(t, "perf", details[0].Features[0].FeatureKey)
}

func TestStore_UsageCounters(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tenant := createTestTenant(t, db, "Acme", "acme")
	period := models.PeriodKey(time.Now())

	for i := 0; i < 3; i++ {
		ok, err := db.TryIncrement(ctx, tenant.ID, "perf", period, 1, 3)
		require.NoError(t, err)
		require.True(t, ok, "increment %d should fit quota 3", i)
	}

	ok, err := db.TryIncrement(ctx, tenant.ID, "perf", period, 1, 3)
	require.NoError(t, err)
	assert.False(t, ok, "fourth increment against quota 3 must be denied")

	counter, err := db.GetUsageCounter(ctx, tenant.ID, "perf", period)
	require.NoError(t, err)
	require.NotNil(t, counter)
	assert.Equal(t, 3, counter.Used)
}

func TestStore_UsageCountersConcurrent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tenant := createTestTenant(t, db, "Acme", "acme")
	period := models.PeriodKey(time.Now())

	const (
		quota      = 5
		goroutines = 10
	)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := db.TryIncrement(ctx, tenant.ID, "perf", period, 1, quota)
			if err != nil {
				t.Errorf("TryIncrement() error = %v", err)
				return
			}
			if ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, quota, allowed, "concurrent increments must admit exactly the quota")
}
