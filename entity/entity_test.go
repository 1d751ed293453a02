package entity

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-entity-cache/cache"
	"github.com/goliatone/go-entity-cache/schema"
	"github.com/goliatone/go-entity-cache/store"
)

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateUnbound, "unbound"},
		{StateLoading, "loading"},
		{StateHydrated, "hydrated"},
		{StateSaving, "saving"},
		{StateDeleted, "deleted"},
		{State(99), "state(99)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestEntity_RelatedList(t *testing.T) {
	rows := newFakeRows()
	rows.seed("users", store.Row{"id": "u1", "name": "one"})
	rows.seed("accounts",
		store.Row{"id": "a1", "owner_id": "u1"},
		store.Row{"id": "a2", "owner_id": "u1"},
		store.Row{"id": "a3", "owner_id": "u2"},
	)

	reg := schema.NewRegistry(nil)
	reg.MustRegister(schema.NewType("User").
		Table("users").
		TTL(time.Minute).
		Field("id", schema.PermissionCreatable).
		Field("name", schema.PermissionReadWrite).
		RelatedList("accounts", func(_ context.Context, owner schema.Record, _ map[string]any) (any, error) {
			var ids []string
			rows.mu.Lock()
			for _, row := range rows.tables["accounts"] {
				if row["owner_id"] == owner.Identifier() {
					ids = append(ids, row["id"].(string))
				}
			}
			rows.mu.Unlock()
			return ids, nil
		}).
		MustBuild())

	mgr, err := NewManager(Config{
		Registry: reg,
		Tiers:    cache.NewTierManager(newCountingLocal(), nil, 0, nil),
		Rows:     rows,
	})
	if err != nil {
		t.Fatalf("building manager: %v", err)
	}

	ctx := context.Background()
	user, err := mgr.LookupByID(ctx, "User", "u1")
	if err != nil || user == nil {
		t.Fatalf("lookup: entity=%v err=%v", user, err)
	}

	got, err := user.RelatedList(ctx, "accounts", nil)
	if err != nil {
		t.Fatalf("related list: %v", err)
	}
	ids, ok := got.([]string)
	if !ok || len(ids) != 2 {
		t.Fatalf("expected the owner's two accounts, got %v", got)
	}

	if _, err := user.RelatedList(ctx, "nope", nil); err == nil {
		t.Fatal("expected an error for an undeclared relation")
	}

	names := user.Type().RelatedListNames()
	if len(names) != 1 || names[0] != "accounts" {
		t.Errorf("unexpected relation names: %v", names)
	}
}

func TestEntity_HooksRunAroundWrites(t *testing.T) {
	rows := newFakeRows()
	rows.seed("notes", store.Row{"id": "n1", "body": "old"})

	var calls []string
	hook := func(name string) schema.HookFunc {
		return func(context.Context, schema.Record) error {
			calls = append(calls, name)
			return nil
		}
	}

	reg := schema.NewRegistry(nil)
	reg.MustRegister(schema.NewType("Note").
		Table("notes").
		Field("id", schema.PermissionCreatable).
		Field("body", schema.PermissionReadWrite).
		BeforeSave(hook("before-save")).
		AfterSave(hook("after-save")).
		BeforeCreate(hook("before-create")).
		AfterCreate(hook("after-create")).
		OnDelete(func(ctx context.Context, r schema.Record) error {
			calls = append(calls, "on-delete")
			return nil
		}).
		MustBuild())

	mgr, err := NewManager(Config{
		Registry: reg,
		Tiers:    cache.NewTierManager(newCountingLocal(), nil, 0, nil),
		Rows:     rows,
	})
	if err != nil {
		t.Fatalf("building manager: %v", err)
	}
	ctx := context.Background()

	note, err := mgr.LookupByID(ctx, "Note", "n1")
	if err != nil || note == nil {
		t.Fatalf("lookup: entity=%v err=%v", note, err)
	}
	if err := mgr.Save(ctx, note, map[string]any{"body": "new"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := mgr.Create(ctx, "Note", map[string]any{"body": "x"}, CreateOptions{}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := mgr.Delete(ctx, note); err != nil {
		t.Fatalf("delete: %v", err)
	}

	want := []string{"before-save", "after-save", "before-create", "after-create", "on-delete"}
	if len(calls) != len(want) {
		t.Fatalf("expected calls %v, got %v", want, calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("expected calls %v, got %v", want, calls)
		}
	}
}
