package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/metergate/metergate/adapters/clock"
	"github.com/metergate/metergate/adapters/memory"
	"github.com/metergate/metergate/app"
	"github.com/metergate/metergate/domain/plan"
	"github.com/metergate/metergate/domain/quota"
	"github.com/metergate/metergate/domain/usage"
	"github.com/metergate/metergate/ports"
	"github.com/rs/zerolog"
)

func newService(t *testing.T, fake *clock.Fake) (*app.MeterService, *memory.MeterStore, *memory.UserStore) {
	t.Helper()

	users := memory.NewUserStore()
	store := memory.NewMeterStore(users)

	svc := app.NewMeterService(app.MeterDeps{
		Store:  store,
		Users:  users,
		Clock:  fake,
		Logger: zerolog.Nop(),
	}, plan.Defaults(), plan.SlugCommunity)

	return svc, store, users
}

func mustCreateUser(t *testing.T, users *memory.UserStore, id, planSlug string, createdAt time.Time) {
	t.Helper()
	err := users.Create(context.Background(), ports.User{
		ID:        id,
		Email:     id + "@example.com",
		PlanSlug:  planSlug,
		CreatedAt: createdAt,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
}

func TestIngest_AppliesOnce(t *testing.T) {
	fake := clock.NewFake(time.Date(2025, 5, 10, 9, 0, 0, 0, time.UTC))
	svc, store, _ := newService(t, fake)
	ctx := context.Background()

	ev := usage.Event{IdempotencyKey: "idem-1", SourceKey: "key_1", Delta: 5}

	applied, err := svc.Ingest(ctx, ev)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !applied {
		t.Fatal("first delivery must apply")
	}

	// Redelivery with the same key: success, no movement.
	applied, err = svc.Ingest(ctx, ev)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if applied {
		t.Fatal("duplicate delivery must not apply")
	}

	c, err := svc.Counter(ctx, "key_1")
	if err != nil {
		t.Fatalf("counter: %v", err)
	}
	if c.Used != 5 {
		t.Errorf("counter = %d, want 5", c.Used)
	}
	if store.Events() != 1 {
		t.Errorf("events stored = %d, want 1", store.Events())
	}
}

func TestIngest_NegativeDeltaClamped(t *testing.T) {
	fake := clock.NewFake(time.Date(2025, 5, 10, 9, 0, 0, 0, time.UTC))
	svc, _, _ := newService(t, fake)
	ctx := context.Background()

	if _, err := svc.Ingest(ctx, usage.Event{IdempotencyKey: "a", SourceKey: "key_1", Delta: 10}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if _, err := svc.Ingest(ctx, usage.Event{IdempotencyKey: "b", SourceKey: "key_1", Delta: -7}); err != nil {
		t.Fatalf("ingest negative: %v", err)
	}

	c, _ := svc.Counter(ctx, "key_1")
	if c.Used != 10 {
		t.Errorf("counter = %d, want 10 (negative delta clamped)", c.Used)
	}
}

func TestIngest_Malformed(t *testing.T) {
	fake := clock.NewFake(time.Date(2025, 5, 10, 9, 0, 0, 0, time.UTC))
	svc, _, _ := newService(t, fake)

	_, err := svc.Ingest(context.Background(), usage.Event{SourceKey: "key_1", Delta: 1})
	if !errors.Is(err, app.ErrMalformedPayload) {
		t.Errorf("err = %v, want ErrMalformedPayload", err)
	}
}

func TestIngest_DefaultsTimestampFromClock(t *testing.T) {
	now := time.Date(2025, 5, 10, 9, 0, 0, 0, time.UTC)
	fake := clock.NewFake(now)
	svc, _, _ := newService(t, fake)

	applied, err := svc.Ingest(context.Background(), usage.Event{IdempotencyKey: "a", SourceKey: "key_1", Delta: 1})
	if err != nil || !applied {
		t.Fatalf("ingest: applied=%v err=%v", applied, err)
	}
}

func TestDebit_AllowsWithinQuota(t *testing.T) {
	now := time.Date(2025, 5, 10, 9, 0, 0, 0, time.UTC)
	fake := clock.NewFake(now)
	svc, _, users := newService(t, fake)
	mustCreateUser(t, users, "u1", plan.SlugCommunity, now.AddDate(0, -1, 0))

	st, err := svc.Debit(context.Background(), "u1", 1)
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if st.Blocked() {
		t.Fatalf("unexpected block: %s", st.BlockedReason)
	}
	if st.Used != 1 {
		t.Errorf("Used = %d, want 1", st.Used)
	}
	if st.Remaining != 999 {
		t.Errorf("Remaining = %d, want 999", st.Remaining)
	}
}

func TestDebit_BlocksAtQuota(t *testing.T) {
	now := time.Date(2025, 5, 10, 9, 0, 0, 0, time.UTC)
	fake := clock.NewFake(now)
	svc, _, users := newService(t, fake)
	mustCreateUser(t, users, "u1", plan.SlugCommunity, now.AddDate(0, -1, 0))
	ctx := context.Background()

	// Burn the whole quota.
	st, err := svc.Debit(ctx, "u1", 1000)
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if st.Blocked() {
		t.Fatalf("reaching the quota exactly must be allowed, got %s", st.BlockedReason)
	}

	st, err = svc.Debit(ctx, "u1", 1)
	if err != nil {
		t.Fatalf("debit past quota: %v", err)
	}
	if st.BlockedReason != quota.ReasonQuotaExceeded {
		t.Errorf("reason = %q, want %q", st.BlockedReason, quota.ReasonQuotaExceeded)
	}
	// The blocked debit left the counter untouched.
	if st.Used != 1000 {
		t.Errorf("Used = %d, want 1000", st.Used)
	}
}

func TestDebit_OverageAccumulates(t *testing.T) {
	now := time.Date(2025, 5, 10, 9, 0, 0, 0, time.UTC)
	fake := clock.NewFake(now)
	svc, _, users := newService(t, fake)
	mustCreateUser(t, users, "u1", plan.SlugPro, now.AddDate(-1, 0, 0))
	ctx := context.Background()

	if _, err := svc.Debit(ctx, "u1", 20000); err != nil {
		t.Fatalf("debit: %v", err)
	}

	st, err := svc.Debit(ctx, "u1", 5)
	if err != nil {
		t.Fatalf("overage debit: %v", err)
	}
	if st.Blocked() {
		t.Fatalf("pro plan must admit overage, got %s", st.BlockedReason)
	}
	if st.Used != 20005 {
		t.Errorf("Used = %d, want 20005", st.Used)
	}
	if st.OverageUsed != 5 {
		t.Errorf("OverageUsed = %d, want 5", st.OverageUsed)
	}
}

func TestDebit_ZeroCostCountsAsOne(t *testing.T) {
	now := time.Date(2025, 5, 10, 9, 0, 0, 0, time.UTC)
	fake := clock.NewFake(now)
	svc, _, users := newService(t, fake)
	mustCreateUser(t, users, "u1", plan.SlugCommunity, now)

	st, err := svc.Debit(context.Background(), "u1", 0)
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if st.Used != 1 {
		t.Errorf("Used = %d, want 1 (zero cost floors to one)", st.Used)
	}
}

func TestDebit_MonthRollover(t *testing.T) {
	now := time.Date(2025, 5, 30, 9, 0, 0, 0, time.UTC)
	fake := clock.NewFake(now)
	svc, _, users := newService(t, fake)
	mustCreateUser(t, users, "u1", plan.SlugCommunity, now.AddDate(0, -1, 0))
	ctx := context.Background()

	if _, err := svc.Debit(ctx, "u1", 1000); err != nil {
		t.Fatalf("debit: %v", err)
	}
	st, _ := svc.Debit(ctx, "u1", 1)
	if st.BlockedReason != quota.ReasonQuotaExceeded {
		t.Fatalf("expected quota exhausted before rollover")
	}

	// New calendar month: a fresh window opens lazily.
	fake.Set(time.Date(2025, 6, 1, 0, 0, 1, 0, time.UTC))

	st, err := svc.Debit(ctx, "u1", 1)
	if err != nil {
		t.Fatalf("debit after rollover: %v", err)
	}
	if st.Blocked() {
		t.Fatalf("new month must reset the window, got %s", st.BlockedReason)
	}
	if st.Used != 1 {
		t.Errorf("Used = %d, want 1", st.Used)
	}
	if !st.PeriodStart.Equal(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("PeriodStart = %v, want June 1", st.PeriodStart)
	}
}

func TestDebit_CommunitySunset(t *testing.T) {
	createdAt := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC) // 3 whole months later
	fake := clock.NewFake(now)
	svc, _, users := newService(t, fake)
	mustCreateUser(t, users, "u1", plan.SlugCommunity, createdAt)

	st, err := svc.Debit(context.Background(), "u1", 1)
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if st.BlockedReason != quota.ReasonPlanSunset {
		t.Errorf("reason = %q, want %q", st.BlockedReason, quota.ReasonPlanSunset)
	}
}

func TestDebit_SunsetTakesPrecedenceOverQuota(t *testing.T) {
	createdAt := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC) // still inside the window
	fake := clock.NewFake(now)
	svc, _, users := newService(t, fake)
	mustCreateUser(t, users, "u1", plan.SlugCommunity, createdAt)
	ctx := context.Background()

	if _, err := svc.Debit(ctx, "u1", 1000); err != nil {
		t.Fatalf("debit: %v", err)
	}

	// Crossing into the fourth month the sunset rule wins over quota.
	fake.Set(time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC))
	st, err := svc.Debit(ctx, "u1", 1)
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if st.BlockedReason != quota.ReasonPlanSunset {
		t.Errorf("reason = %q, want %q", st.BlockedReason, quota.ReasonPlanSunset)
	}
}

func TestDebit_SunsetReportsZeroUsage(t *testing.T) {
	// The sunset early exit rolls back before the period row is read, so the
	// returned status carries zero usage even when units were spent earlier.
	createdAt := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	fake := clock.NewFake(time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC))
	svc, _, users := newService(t, fake)
	mustCreateUser(t, users, "u1", plan.SlugPro, createdAt)
	ctx := context.Background()

	// Spend while on a paid plan, then downgrade: the month now carries
	// real usage when the sunset rule kicks in.
	if _, err := svc.Debit(ctx, "u1", 500); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if err := users.UpdatePlan(ctx, "u1", plan.SlugCommunity); err != nil {
		t.Fatalf("update plan: %v", err)
	}

	st, err := svc.Debit(ctx, "u1", 1)
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if st.BlockedReason != quota.ReasonPlanSunset {
		t.Fatalf("reason = %q, want %q", st.BlockedReason, quota.ReasonPlanSunset)
	}
	if st.Used != 0 {
		t.Errorf("Used = %d, want 0", st.Used)
	}
}

func TestDebit_PaidPlanNeverSunsets(t *testing.T) {
	createdAt := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	fake := clock.NewFake(time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC))
	svc, _, users := newService(t, fake)
	mustCreateUser(t, users, "u1", plan.SlugPro, createdAt)

	st, err := svc.Debit(context.Background(), "u1", 1)
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if st.Blocked() {
		t.Errorf("pro plan blocked: %s", st.BlockedReason)
	}
}

func TestDebit_UnknownPlanFallsBack(t *testing.T) {
	now := time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC)
	fake := clock.NewFake(now)
	svc, _, users := newService(t, fake)
	mustCreateUser(t, users, "u1", "legacy-gold", now)

	st, err := svc.Debit(context.Background(), "u1", 1)
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if st.Plan.Slug != plan.SlugCommunity {
		t.Errorf("plan = %s, want community fallback", st.Plan.Slug)
	}
}

func TestDebit_UnknownUser(t *testing.T) {
	fake := clock.NewFake(time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC))
	svc, _, _ := newService(t, fake)

	_, err := svc.Debit(context.Background(), "ghost", 1)
	if !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDebit_StoreErrorSurfaces(t *testing.T) {
	now := time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC)
	fake := clock.NewFake(now)
	svc, store, users := newService(t, fake)
	mustCreateUser(t, users, "u1", plan.SlugCommunity, now)

	boom := errors.New("disk on fire")
	store.FailNext = boom

	_, err := svc.Debit(context.Background(), "u1", 1)
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped store error", err)
	}
}

func TestStatus_ReportsRealUsageUnderSunset(t *testing.T) {
	// Unlike the debit early exit, a status read loads the row and reports
	// real usage alongside the sunset flag.
	createdAt := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	fake := clock.NewFake(time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC))
	svc, _, users := newService(t, fake)
	mustCreateUser(t, users, "u1", plan.SlugPro, createdAt)
	ctx := context.Background()

	if _, err := svc.Debit(ctx, "u1", 500); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if err := users.UpdatePlan(ctx, "u1", plan.SlugCommunity); err != nil {
		t.Fatalf("update plan: %v", err)
	}

	st, err := svc.Status(ctx, "u1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.BlockedReason != quota.ReasonPlanSunset {
		t.Errorf("reason = %q, want %q", st.BlockedReason, quota.ReasonPlanSunset)
	}
	if st.Used != 500 {
		t.Errorf("Used = %d, want 500", st.Used)
	}
	if !st.PeriodStart.Equal(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("PeriodStart = %v, want April 1", st.PeriodStart)
	}
}

func TestStatus_FreshUser(t *testing.T) {
	now := time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC)
	fake := clock.NewFake(now)
	svc, _, users := newService(t, fake)
	mustCreateUser(t, users, "u1", plan.SlugCommunity, now)

	st, err := svc.Status(context.Background(), "u1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Used != 0 {
		t.Errorf("Used = %d, want 0", st.Used)
	}
	if st.Remaining != 1000 {
		t.Errorf("Remaining = %d, want 1000", st.Remaining)
	}
	if st.Blocked() {
		t.Errorf("fresh user blocked: %s", st.BlockedReason)
	}
}

func TestUpdatePlans_HotSwap(t *testing.T) {
	now := time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC)
	fake := clock.NewFake(now)
	svc, _, users := newService(t, fake)
	mustCreateUser(t, users, "u1", plan.SlugCommunity, now)
	ctx := context.Background()

	if _, err := svc.Debit(ctx, "u1", 1000); err != nil {
		t.Fatalf("debit: %v", err)
	}
	st, _ := svc.Debit(ctx, "u1", 1)
	if st.BlockedReason != quota.ReasonQuotaExceeded {
		t.Fatal("expected quota exhausted")
	}

	// Raise the community quota at runtime.
	svc.UpdatePlans([]plan.Plan{
		{Slug: plan.SlugCommunity, Label: "Community", MonthlyQuota: 5000},
	}, plan.SlugCommunity)

	st, err := svc.Debit(ctx, "u1", 1)
	if err != nil {
		t.Fatalf("debit after plan swap: %v", err)
	}
	if st.Blocked() {
		t.Errorf("raised quota still blocks: %s", st.BlockedReason)
	}
	if st.Quota != 5000 {
		t.Errorf("Quota = %d, want 5000", st.Quota)
	}
}
