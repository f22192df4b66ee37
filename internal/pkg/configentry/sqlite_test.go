package configentry

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-openapi/strfmt"
	"github.com/pkg/errors"

	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/ojapi"
)

var entryColumns = []string{"id", "version", "title", "data", "options", "created_at"}

func newMockStore(t *testing.T) (*SQLiteStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New(): %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return NewSQLiteStore(db), mock
}

func TestSQLiteStore_Get(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(selectEntrySQL)).
		WithArgs("abc").
		WillReturnRows(sqlmock.NewRows(entryColumns).AddRow(
			"abc", 1, "OJ Microline Thermostat (bob)",
			`{"host":"ocd5.azurewebsites.net","api_key":"k","username":"bob","password":"p","customer_id":99}`,
			`{"use_comfort_mode":true,"comfort_mode_duration":30}`,
			created,
		))

	e, err := store.Get(context.Background(), "abc")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if e.Version != 1 || e.Data.Username != "bob" || e.Data.Model != "" {
		t.Fatalf("unexpected entry %+v", e)
	}
	if !e.Options.UseComfortMode || e.Options.DurationMinutes() != 30 {
		t.Fatalf("unexpected options %+v", e.Options)
	}
	if !time.Time(e.CreatedAt).Equal(created) {
		t.Fatalf("created_at = %v", e.CreatedAt)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSQLiteStore_GetMissing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(selectEntrySQL)).
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	if _, err := store.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStore_Create(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	entry := Entry{
		ID:        "abc",
		Version:   CurrentVersion,
		Title:     "t",
		Data:      Data{Model: ojapi.ModelWG4, Username: "u", Password: "p"},
		Options:   DefaultOptions(),
		CreatedAt: strfmt.DateTime(created),
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO config_entries")).
		WithArgs(
			"abc",
			CurrentVersion,
			"t",
			`{"model":"WG4","username":"u","password":"p"}`,
			`{"use_comfort_mode":false,"comfort_mode_duration":60}`,
			created,
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := store.Create(context.Background(), entry); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSQLiteStore_UpdateMissing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE config_entries")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Update(context.Background(), Entry{ID: "gone"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStore_ListAndDelete(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(selectEntriesSQL)).
		WillReturnRows(sqlmock.NewRows(entryColumns).
			AddRow("a", 2, "A", `{"model":"WD5","username":"a","password":"p"}`, `{}`, now).
			AddRow("b", 2, "B", `{"model":"WG4","username":"b","password":"p"}`, `{}`, now))

	mock.ExpectExec(regexp.QuoteMeta(deleteEntrySQL)).
		WithArgs("a").
		WillReturnResult(sqlmock.NewResult(0, 1))

	entries, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 || entries[1].Data.Model != ojapi.ModelWG4 {
		t.Fatalf("unexpected entries %+v", entries)
	}

	if err := store.Delete(context.Background(), "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
