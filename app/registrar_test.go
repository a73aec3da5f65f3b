package app_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/metergate/metergate/adapters/clock"
	"github.com/metergate/metergate/adapters/idgen"
	"github.com/metergate/metergate/adapters/memory"
	"github.com/metergate/metergate/app"
	"github.com/metergate/metergate/ports"
)

func newRegistrar(t *testing.T) (*app.Registrar, *memory.UserStore, *memory.KeyStore, *clock.Fake) {
	t.Helper()

	users := memory.NewUserStore()
	keys := memory.NewKeyStore()
	fake := clock.NewFake(time.Date(2025, 5, 10, 9, 0, 0, 0, time.UTC))
	reg := app.NewRegistrar(app.RegistrarDeps{
		Users: users,
		Keys:  keys,
		IDs:   idgen.NewSequential(""),
		Clock: fake,
	}, "mk_")
	return reg, users, keys, fake
}

func TestRegistrar_CreateUser(t *testing.T) {
	reg, users, _, fake := newRegistrar(t)
	ctx := context.Background()

	u, err := reg.CreateUser(ctx, "dev@example.com", "pro")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if u.ID != "user_1" {
		t.Errorf("id = %s, want user_1", u.ID)
	}
	if !u.CreatedAt.Equal(fake.Now().UTC()) {
		t.Errorf("created at = %v, want clock time", u.CreatedAt)
	}

	stored, err := users.Get(ctx, u.ID)
	if err != nil {
		t.Fatalf("get stored user: %v", err)
	}
	if stored.Email != "dev@example.com" || stored.PlanSlug != "pro" {
		t.Errorf("stored user = %+v", stored)
	}

	second, err := reg.CreateUser(ctx, "ops@example.com", "community")
	if err != nil {
		t.Fatalf("create second user: %v", err)
	}
	if second.ID != "user_2" {
		t.Errorf("second id = %s, want user_2", second.ID)
	}
}

func TestRegistrar_IssueKey(t *testing.T) {
	reg, _, keys, _ := newRegistrar(t)
	ctx := context.Background()

	u, err := reg.CreateUser(ctx, "dev@example.com", "pro")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	rawKey, k, err := reg.IssueKey(ctx, u.ID, "ci")
	if err != nil {
		t.Fatalf("issue key: %v", err)
	}
	if k.ID != "key_2" {
		t.Errorf("key id = %s, want key_2", k.ID)
	}
	if k.UserID != u.ID || k.Name != "ci" {
		t.Errorf("key = %+v", k)
	}
	if !strings.HasPrefix(rawKey, "mk_") {
		t.Errorf("raw key %q missing prefix", rawKey)
	}
	if !k.Matches(rawKey) {
		t.Error("issued key does not match its raw form")
	}

	listed, err := keys.ListByUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("list keys: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != k.ID {
		t.Errorf("stored keys = %+v", listed)
	}
}

func TestRegistrar_IssueKeyUnknownUser(t *testing.T) {
	reg, _, _, _ := newRegistrar(t)

	_, _, err := reg.IssueKey(context.Background(), "user_ghost", "")
	if !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
