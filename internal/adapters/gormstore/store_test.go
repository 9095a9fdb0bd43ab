package gormstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/atvirokodosprendimai/rentdesk/internal/adapters/gormstore/gormdb"
	"github.com/atvirokodosprendimai/rentdesk/internal/core/domain"
	"github.com/atvirokodosprendimai/rentdesk/migrations"
)

func openTestDB(t *testing.T) (*gormdb.DB, *sql.DB) {
	t.Helper()
	ctx := context.Background()

	db, err := gormdb.OpenSQLite(filepath.Join(t.TempDir(), "rentdesk.sqlite"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	wdb, err := db.WriteSQLDB()
	if err != nil {
		t.Fatalf("writer sql db: %v", err)
	}
	if err := migrations.Up(ctx, wdb, db.Dialect); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db, wdb
}

func testRecord(collection, id, owner string, data domain.Fields, at time.Time) domain.Record {
	return domain.Record{
		Collection: collection,
		ID:         id,
		OwnerID:    owner,
		Data:       data,
		CreatedAt:  at,
		UpdatedAt:  at,
	}
}

var base = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func TestRecordStoreInsertAndListByOwner(t *testing.T) {
	ctx := context.Background()
	db, _ := openTestDB(t)
	store := NewRecordStore(db)
	meta := domain.MutationMetadata{Actor: "u1", Source: "test"}

	seed := []domain.Record{
		testRecord(domain.CollectionRents, "r1", "u1", domain.Fields{"name": "Asha", "rentAmount": json.Number("5000")}, base),
		testRecord(domain.CollectionRents, "r2", "u1", domain.Fields{"name": "Ravi"}, base.Add(time.Hour)),
		testRecord(domain.CollectionRents, "r3", "u2", domain.Fields{"name": "Other"}, base.Add(2*time.Hour)),
		testRecord(domain.CollectionDeposits, "d1", "u1", domain.Fields{"name": "Asha"}, base),
	}
	for _, rec := range seed {
		if _, err := store.InsertWithEvents(ctx, rec, meta); err != nil {
			t.Fatalf("insert %s: %v", rec.ID, err)
		}
	}

	got, err := store.ListByOwner(ctx, domain.CollectionRents, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rents for u1, got %d", len(got))
	}
	if got[0].ID != "r2" || got[1].ID != "r1" {
		t.Fatalf("expected newest first, got %s, %s", got[0].ID, got[1].ID)
	}
	if got[1].Data["rentAmount"] != json.Number("5000") {
		t.Fatalf("expected numeric field kept as number, got %#v", got[1].Data["rentAmount"])
	}
	if !got[1].CreatedAt.Equal(base) {
		t.Fatalf("unexpected createdAt: %s", got[1].CreatedAt)
	}

	rec, err := store.Get(ctx, domain.CollectionRents, "r3")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.OwnerID != "u2" || rec.Data.String("name") != "Other" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	if _, err := store.Get(ctx, domain.CollectionRents, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordStorePatchMergesFields(t *testing.T) {
	ctx := context.Background()
	db, _ := openTestDB(t)
	store := NewRecordStore(db)
	meta := domain.MutationMetadata{Actor: "u1"}

	if _, err := store.InsertWithEvents(ctx, testRecord(domain.CollectionLightBills, "b1", "u1", domain.Fields{
		"name":        "Asha",
		"lastUnit":    json.Number("100"),
		"currentUnit": json.Number("150"),
	}, base), meta); err != nil {
		t.Fatalf("insert: %v", err)
	}

	later := base.Add(24 * time.Hour)
	meta.OccurredAt = later
	merged, err := store.PatchWithEvents(ctx, domain.CollectionLightBills, "b1", domain.Fields{"currentUnit": json.Number("200")}, meta)
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if merged.Data.String("name") != "Asha" {
		t.Fatalf("expected untouched field to survive, got %+v", merged.Data)
	}

	stored, err := store.Get(ctx, domain.CollectionLightBills, "b1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Data["currentUnit"] != json.Number("200") || stored.Data["lastUnit"] != json.Number("100") {
		t.Fatalf("unexpected merged data: %+v", stored.Data)
	}
	if !stored.UpdatedAt.Equal(later) || !stored.CreatedAt.Equal(base) {
		t.Fatalf("unexpected timestamps: created=%s updated=%s", stored.CreatedAt, stored.UpdatedAt)
	}

	_, err = store.PatchWithEvents(ctx, domain.CollectionLightBills, "missing", domain.Fields{"x": 1}, meta)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing record, got %v", err)
	}
}

func TestRecordStoreDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db, wdb := openTestDB(t)
	store := NewRecordStore(db)
	meta := domain.MutationMetadata{Actor: "u1"}

	if _, err := store.InsertWithEvents(ctx, testRecord(domain.CollectionExpenses, "e1", "u1", domain.Fields{"amount": "300"}, base), meta); err != nil {
		t.Fatalf("insert: %v", err)
	}

	deleted, err := store.DeleteWithEvents(ctx, domain.CollectionExpenses, "e1", meta)
	if err != nil || !deleted {
		t.Fatalf("first delete: deleted=%v err=%v", deleted, err)
	}
	deleted, err = store.DeleteWithEvents(ctx, domain.CollectionExpenses, "e1", meta)
	if err != nil || deleted {
		t.Fatalf("second delete: deleted=%v err=%v", deleted, err)
	}

	assertTableCount(t, ctx, wdb, "records", 0)
	assertTableCount(t, ctx, wdb, "audit_events", 2)
	assertTableCount(t, ctx, wdb, "outbox_events", 2)
}

func TestRecordStoreWritesAuditAndOutboxPerMutation(t *testing.T) {
	ctx := context.Background()
	db, _ := openTestDB(t)
	store := NewRecordStore(db)
	audits := NewAuditTrailRepository(db)
	outbox := NewOutboxRepository(db)
	meta := domain.MutationMetadata{Actor: "u1", Source: "test", RequestID: "req-1"}

	if _, err := store.InsertWithEvents(ctx, testRecord(domain.CollectionDocuments, "doc1", "u1", domain.Fields{"name": "A"}, base), meta); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := store.PatchWithEvents(ctx, domain.CollectionDocuments, "doc1", domain.Fields{"name": "B"}, meta); err != nil {
		t.Fatalf("patch: %v", err)
	}
	if _, err := store.DeleteWithEvents(ctx, domain.CollectionDocuments, "doc1", meta); err != nil {
		t.Fatalf("delete: %v", err)
	}

	events, err := audits.List(ctx, domain.AuditFilter{OwnerID: "u1", OldestFirst: true, Limit: 10})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	wantActions := []string{domain.EventRecordCreated, domain.EventRecordUpdated, domain.EventRecordDeleted}
	if len(events) != len(wantActions) {
		t.Fatalf("expected %d audit rows, got %d", len(wantActions), len(events))
	}
	for i, ev := range events {
		if ev.Action != wantActions[i] {
			t.Fatalf("row %d: got action %s want %s", i, ev.Action, wantActions[i])
		}
		if ev.AggregateVersion != int64(i+1) {
			t.Fatalf("row %d: got version %d want %d", i, ev.AggregateVersion, i+1)
		}
		if ev.RequestID != "req-1" || ev.Collection != domain.CollectionDocuments {
			t.Fatalf("row %d: unexpected metadata %+v", i, ev)
		}
	}
	if events[0].BeforeJSON != nil || events[2].AfterJSON != nil {
		t.Fatalf("expected empty before on create and empty after on delete")
	}

	newest, err := audits.List(ctx, domain.AuditFilter{OwnerID: "u1", Limit: 1})
	if err != nil {
		t.Fatalf("list newest: %v", err)
	}
	if len(newest) != 1 || newest[0].Action != domain.EventRecordDeleted {
		t.Fatalf("expected newest row to be the delete, got %+v", newest)
	}
	older, err := audits.List(ctx, domain.AuditFilter{OwnerID: "u1", BeforeID: newest[0].ID, Limit: 10})
	if err != nil {
		t.Fatalf("list older: %v", err)
	}
	if len(older) != 2 || older[0].Action != domain.EventRecordUpdated {
		t.Fatalf("unexpected older page: %+v", older)
	}

	pending, err := outbox.FetchPending(ctx, 10)
	if err != nil {
		t.Fatalf("fetch pending: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending outbox rows, got %d", len(pending))
	}
	var envelope domain.EventEnvelope
	if err := json.Unmarshal(pending[0].PayloadJSON, &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.OwnerID != "u1" || envelope.RecordID != "doc1" || envelope.Collection != domain.CollectionDocuments {
		t.Fatalf("unexpected envelope: %+v", envelope)
	}
	if pending[0].Topic != domain.Topic("u1", domain.EventRecordCreated) {
		t.Fatalf("unexpected topic: %s", pending[0].Topic)
	}
}

func TestRecordStoreOutboxFailureRollsBackInsertAndDelete(t *testing.T) {
	ctx := context.Background()
	db, wdb := openTestDB(t)
	store := NewRecordStore(db)
	meta := domain.MutationMetadata{Actor: "tester", Source: "test"}

	createTrigger := func() {
		if _, err := wdb.ExecContext(ctx, `
			CREATE TRIGGER trg_fail_outbox_insert
			BEFORE INSERT ON outbox_events
			BEGIN
				SELECT RAISE(ABORT, 'forced outbox failure');
			END;
		`); err != nil {
			t.Fatalf("create failure trigger: %v", err)
		}
	}
	dropTrigger := func() {
		if _, err := wdb.ExecContext(ctx, "DROP TRIGGER IF EXISTS trg_fail_outbox_insert"); err != nil {
			t.Fatalf("drop trigger: %v", err)
		}
	}

	t.Run("insert rollback", func(t *testing.T) {
		createTrigger()
		defer dropTrigger()

		_, err := store.InsertWithEvents(ctx, testRecord(domain.CollectionRents, "r1", "u1", domain.Fields{"name": "A"}, base), meta)
		if err == nil {
			t.Fatalf("expected insert error")
		}
		if !strings.Contains(err.Error(), "forced outbox failure") {
			t.Fatalf("expected forced outbox failure, got: %v", err)
		}

		assertTableCount(t, ctx, wdb, "records", 0)
		assertTableCount(t, ctx, wdb, "audit_events", 0)
		assertTableCount(t, ctx, wdb, "outbox_events", 0)
	})

	t.Run("delete rollback", func(t *testing.T) {
		if _, err := store.InsertWithEvents(ctx, testRecord(domain.CollectionRents, "r2", "u1", domain.Fields{"name": "B"}, base), meta); err != nil {
			t.Fatalf("seed row: %v", err)
		}
		createTrigger()
		defer dropTrigger()

		deleted, err := store.DeleteWithEvents(ctx, domain.CollectionRents, "r2", meta)
		if err == nil {
			t.Fatalf("expected delete error")
		}
		if deleted {
			t.Fatalf("expected deleted=false on rollback")
		}

		assertTableCount(t, ctx, wdb, "records", 1)
		assertTableCount(t, ctx, wdb, "audit_events", 1)
		assertTableCount(t, ctx, wdb, "outbox_events", 1)
	})
}

func TestOutboxRepositoryLifecycle(t *testing.T) {
	ctx := context.Background()
	db, wdb := openTestDB(t)
	store := NewRecordStore(db)
	outbox := NewOutboxRepository(db)
	meta := domain.MutationMetadata{Actor: "u1"}

	for _, id := range []string{"a", "b", "c"} {
		if _, err := store.InsertWithEvents(ctx, testRecord(domain.CollectionRents, id, "u1", domain.Fields{}, base), meta); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}
	pending, err := outbox.FetchPending(ctx, 10)
	if err != nil || len(pending) != 3 {
		t.Fatalf("fetch pending: len=%d err=%v", len(pending), err)
	}

	if err := outbox.MarkDispatched(ctx, pending[0].ID); err != nil {
		t.Fatalf("mark dispatched: %v", err)
	}
	next := time.Now().UTC().Add(time.Hour).Format(time.RFC3339Nano)
	if err := outbox.MarkFailed(ctx, pending[1].ID, 1, next, "boom"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := outbox.MarkDead(ctx, pending[2].ID, 5, "gave up"); err != nil {
		t.Fatalf("mark dead: %v", err)
	}

	again, err := outbox.FetchPending(ctx, 10)
	if err != nil {
		t.Fatalf("refetch: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected nothing due, got %d rows", len(again))
	}

	outbox.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }
	again, err = outbox.FetchPending(ctx, 10)
	if err != nil {
		t.Fatalf("refetch after backoff: %v", err)
	}
	if len(again) != 1 || again[0].ID != pending[1].ID || again[0].Attempts != 1 || again[0].LastError != "boom" {
		t.Fatalf("expected retried row to be due, got %+v", again)
	}

	purged, err := outbox.PurgeDispatched(ctx, time.Now().UTC().Add(time.Minute).Format(time.RFC3339Nano))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged row, got %d", purged)
	}
	assertTableCount(t, ctx, wdb, "outbox_events", 2)

	if _, err := outbox.PurgeDispatched(ctx, "yesterday"); err == nil {
		t.Fatalf("expected error for malformed cutoff")
	}
}

func TestSchemaRepositoryUpsertGetDelete(t *testing.T) {
	ctx := context.Background()
	db, _ := openTestDB(t)
	repo := NewSchemaRepository(db)

	if _, err := repo.Get(ctx, "u1", domain.CollectionRents); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	first, err := repo.Upsert(ctx, domain.CollectionSchema{OwnerID: "u1", Collection: domain.CollectionRents, Schema: json.RawMessage(`{"type":"object"}`)})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	second, err := repo.Upsert(ctx, domain.CollectionSchema{OwnerID: "u1", Collection: domain.CollectionRents, Schema: json.RawMessage(`{"type":"object","required":["name"]}`)})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("expected createdAt preserved across upserts")
	}

	got, err := repo.Get(ctx, "u1", domain.CollectionRents)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !strings.Contains(string(got.Schema), "required") {
		t.Fatalf("expected latest schema, got %s", got.Schema)
	}

	if _, err := repo.Get(ctx, "u2", domain.CollectionRents); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected another owner to see no schema, got %v", err)
	}
	other, err := repo.Upsert(ctx, domain.CollectionSchema{OwnerID: "u2", Collection: domain.CollectionRents, Schema: json.RawMessage(`{"type":"object","required":["floor"]}`)})
	if err != nil {
		t.Fatalf("upsert for second owner: %v", err)
	}
	if other.OwnerID != "u2" || !strings.Contains(string(other.Schema), "floor") {
		t.Fatalf("unexpected second owner schema: %+v", other)
	}
	got, err = repo.Get(ctx, "u1", domain.CollectionRents)
	if err != nil || strings.Contains(string(got.Schema), "floor") {
		t.Fatalf("expected first owner schema untouched, got %s err=%v", got.Schema, err)
	}

	deleted, err := repo.Delete(ctx, "u1", domain.CollectionRents)
	if err != nil || !deleted {
		t.Fatalf("delete: deleted=%v err=%v", deleted, err)
	}
	deleted, err = repo.Delete(ctx, "u1", domain.CollectionRents)
	if err != nil || deleted {
		t.Fatalf("second delete: deleted=%v err=%v", deleted, err)
	}
	if _, err := repo.Get(ctx, "u2", domain.CollectionRents); err != nil {
		t.Fatalf("expected second owner schema to survive delete, got %v", err)
	}
}

func TestAccountRepository(t *testing.T) {
	ctx := context.Background()
	db, _ := openTestDB(t)
	repo := NewAccountRepository(db)

	account := domain.Account{
		User:         domain.User{UID: "uid-1", Email: "owner@example.com", DisplayName: "Owner"},
		PasswordHash: []byte("hash"),
		CreatedAt:    base,
		LastLogin:    base,
	}
	if err := repo.Create(ctx, account); err != nil {
		t.Fatalf("create: %v", err)
	}

	dup := account
	dup.UID = "uid-2"
	if err := repo.Create(ctx, dup); !errors.Is(err, domain.ErrEmailInUse) {
		t.Fatalf("expected ErrEmailInUse, got %v", err)
	}

	byEmail, err := repo.FindByEmail(ctx, "owner@example.com")
	if err != nil {
		t.Fatalf("find by email: %v", err)
	}
	if byEmail.UID != "uid-1" || string(byEmail.PasswordHash) != "hash" || byEmail.DisplayName != "Owner" {
		t.Fatalf("unexpected account: %+v", byEmail)
	}

	later := base.Add(48 * time.Hour)
	if err := repo.TouchLastLogin(ctx, "uid-1", later); err != nil {
		t.Fatalf("touch: %v", err)
	}
	byUID, err := repo.FindByUID(ctx, "uid-1")
	if err != nil {
		t.Fatalf("find by uid: %v", err)
	}
	if !byUID.LastLogin.Equal(later) {
		t.Fatalf("expected last login %s, got %s", later, byUID.LastLogin)
	}

	if _, err := repo.FindByUID(ctx, "nobody"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := repo.TouchLastLogin(ctx, "nobody", later); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on touch, got %v", err)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db, wdb := openTestDB(t)

	if err := migrations.Up(ctx, wdb, db.Dialect); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	v, err := migrations.Version(ctx, wdb, db.Dialect)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if v != 1 {
		t.Fatalf("expected version 1, got %d", v)
	}
}

func assertTableCount(t *testing.T, ctx context.Context, wdb *sql.DB, table string, want int) {
	t.Helper()
	var got int
	row := wdb.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table)
	if err := row.Scan(&got); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	if got != want {
		t.Fatalf("unexpected %s count: got %d want %d", table, got, want)
	}
}
