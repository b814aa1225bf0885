package database

import (
	"strings"
	"testing"
	"testing/fstest"
)

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"20260101_000000_meters.up.sql": {Data: []byte(
			"CREATE TABLE meters (unit INTEGER PRIMARY KEY, breaker TEXT NOT NULL) STRICT;")},
		"20260101_000000_meters.down.sql": {Data: []byte("DROP TABLE meters;")},
		"20260102_000000_notes.up.sql": {Data: []byte(
			"CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT) STRICT;")},
		"README.md":           {Data: []byte("not a migration")},
		"20260103_broken.sql": {Data: []byte("SELECT 1;")},
	}
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRowContext(testContext(t),
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name,
	).Scan(&n)
	if err != nil {
		t.Fatalf("querying sqlite_master: %v", err)
	}
	return n == 1
}

func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	ctx := testContext(t)
	fsys := testMigrations()

	if err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	for _, table := range []string{"meters", "notes"} {
		if !tableExists(t, db, table) {
			t.Errorf("table %s not created", table)
		}
	}

	applied, pending, err := db.MigrationStatus(ctx, fsys)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 0 {
		t.Errorf("applied = %d, pending = %d, want 2 and 0", len(applied), len(pending))
	}
	if applied[0].AppliedAt.IsZero() {
		t.Error("AppliedAt not recorded")
	}

	if err := db.Migrate(ctx, fsys); err != nil {
		t.Errorf("second Migrate() error = %v", err)
	}
}

func TestMigrate_StopsAtFailure(t *testing.T) {
	db := openTestDB(t)
	ctx := testContext(t)
	fsys := fstest.MapFS{
		"20260101_000000_ok.up.sql":    {Data: []byte("CREATE TABLE ok (v INTEGER);")},
		"20260102_000000_bad.up.sql":   {Data: []byte("CREATE TABLE;")},
		"20260103_000000_later.up.sql": {Data: []byte("CREATE TABLE later (v INTEGER);")},
	}

	if err := db.Migrate(ctx, fsys); err == nil {
		t.Fatal("Migrate() error = nil, want failure")
	}
	if !tableExists(t, db, "ok") {
		t.Error("migration before the failure was rolled back")
	}
	if tableExists(t, db, "later") {
		t.Error("migration after the failure was applied")
	}
}

func TestLoadMigrations(t *testing.T) {
	migrations, err := LoadMigrations(testMigrations())
	if err != nil {
		t.Fatalf("LoadMigrations() error = %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("len = %d, want 2", len(migrations))
	}
	first := migrations[0]
	if first.Version != "20260101_000000" || first.Name != "meters" || !strings.HasPrefix(first.UpSQL, "CREATE TABLE meters") {
		t.Errorf("first migration = %+v", first)
	}

	none, err := LoadMigrations(nil)
	if err != nil || none != nil {
		t.Errorf("LoadMigrations(nil) = %v, %v", none, err)
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		name        string
		wantVersion string
		wantUp      bool
		wantOK      bool
	}{
		{"20260501_120000_readings.up.sql", "20260501_120000", true, true},
		{"20260501_120000_readings.down.sql", "20260501_120000", false, true},
		{"20260501_120000_readings.sql", "", false, false},
		{"readings.up.sql", "", false, false},
		{"20260501_120000_readings.up.txt", "", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, isUp, ok := parseMigrationFilename(tt.name)
			if version != tt.wantVersion || isUp != tt.wantUp || ok != tt.wantOK {
				t.Errorf("parseMigrationFilename(%q) = %q, %v, %v", tt.name, version, isUp, ok)
			}
		})
	}
}
