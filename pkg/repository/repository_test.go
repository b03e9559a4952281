package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/nimburion/docops/pkg/codec"
	"github.com/nimburion/docops/pkg/query"
	"github.com/nimburion/docops/pkg/repository/document"
	"github.com/nimburion/docops/pkg/schema"
)

func TestCreate_StampsWriteTime(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	ref, err := Create(ctx, store, members, member{Name: "Barbara", Amount: 7})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	snap, err := store.Get(ctx, ref)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if snap.Fields["createdAt"] != codec.TimestampOf(clock) {
		t.Fatalf("createdAt = %#v, want store time", snap.Fields["createdAt"])
	}
	rec := FetchOne(ctx, store, ref, members)
	if rec == nil || rec.Data.Name != "Barbara" || !rec.Data.CreatedAt.Equal(clock) {
		t.Fatalf("round trip = %+v", rec)
	}
}

func TestWrites_PropagateErrors(t *testing.T) {
	ctx := context.Background()
	unavailable := errors.New("unavailable")

	if _, err := Create(ctx, failingStore{err: unavailable}, members, member{Name: "x"}); !errors.Is(err, unavailable) {
		t.Fatalf("Create() error = %v", err)
	}
	if err := Update(ctx, newStore(t), members, "missing", map[string]any{"name": "x"}); !errors.Is(err, document.ErrNotFound) {
		t.Fatalf("Update() error = %v, want ErrNotFound", err)
	}
}

func TestUpdate_StampsSetOnWriteFields(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	if err := Update(ctx, store, members, "c", map[string]any{"status": "active"}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	rec := FetchOne(ctx, store, document.Collection("members").Doc("c"), members)
	if rec == nil || rec.Data.Status != "active" || !rec.Data.CreatedAt.Equal(clock) {
		t.Fatalf("after update = %+v", rec)
	}
}

func TestRepository(t *testing.T) {
	store := newStore(t)
	log := &recordingLogger{}
	repo := New(store, members, WithLogger(log))
	ctx := context.Background()

	if rec := repo.Get(ctx, "a"); rec == nil || rec.Data.Name != "Ada" {
		t.Fatalf("Get() = %+v", rec)
	}
	if _, err := repo.GetStrict(ctx, "missing"); !errors.Is(err, document.ErrNotFound) {
		t.Fatalf("GetStrict() error = %v", err)
	}

	active := repo.List(ctx, query.Variables{}.Where("status", query.Equal, "active").OrderBy("amount", query.Desc))
	if len(active) != 2 || active[0].ID != "a" || active[1].ID != "b" {
		t.Fatalf("List() = %+v", active)
	}

	first := repo.First(ctx, query.Variables{}, query.Sort{Field: "amount", Direction: query.Asc})
	if first == nil || first.ID != "b" {
		t.Fatalf("First() = %+v", first)
	}

	id, err := repo.Create(ctx, member{Name: "Ken", Amount: 1})
	if err != nil || id == "" {
		t.Fatalf("Create() = %q, %v", id, err)
	}
	if err := repo.Set(ctx, id, member{Name: "Ken", Status: "paused", Amount: 2}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := repo.Update(ctx, id, map[string]any{"amount": 3}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if rec := repo.Get(ctx, id); rec == nil || rec.Data.Amount != 3 || rec.Data.Status != "paused" {
		t.Fatalf("after Update() = %+v", rec)
	}
	if err := repo.Delete(ctx, id); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if rec := repo.Get(ctx, id); rec != nil {
		t.Fatalf("deleted record still readable: %+v", rec)
	}
	if log.count("error") != 0 {
		t.Fatalf("unexpected error entries: %+v", log.entries)
	}
}

func TestRepository_RejectsUnknownFields(t *testing.T) {
	log := &recordingLogger{}
	repo := New(newStore(t), members, WithLogger(log))
	ctx := context.Background()
	vars := query.Variables{}.Where("nickname", query.Equal, "ada")

	if recs := repo.List(ctx, vars); recs == nil || len(recs) != 0 {
		t.Fatalf("List() = %#v, want empty non-nil slice", recs)
	}
	if !log.tagged("error", OpFetchMany) {
		t.Fatal("expected the invalid variables to be logged")
	}
	if _, err := repo.ListStrict(ctx, vars); !errors.Is(err, query.ErrInvalidVariables) {
		t.Fatalf("ListStrict() error = %v", err)
	}
}

func TestRepository_StrictCollection(t *testing.T) {
	type strictMember struct {
		Name string `json:"name"`
	}
	coll := schema.MustDefine[strictMember]("strict_members", schema.Strict())
	repo := New(document.NewMemoryStore(), coll)
	if _, err := repo.Create(context.Background(), strictMember{Name: "ok"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.Update(context.Background(), "missing", map[string]any{"name": "x"}); !errors.Is(err, document.ErrNotFound) {
		t.Fatalf("Update() error = %v", err)
	}
}
