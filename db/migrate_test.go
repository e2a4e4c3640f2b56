package db

import (
	"io/fs"
	"strings"
	"testing"
)

func TestEmbeddedMigrationsPaired(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}
	ups, downs := map[string]bool{}, map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	if len(ups) == 0 {
		t.Fatal("no migrations embedded")
	}
	for v := range ups {
		if !downs[v] {
			t.Errorf("migration %s has no down file", v)
		}
	}
}

func TestRunMigrations(t *testing.T) {
	database := setupTestDB(t)
	if err := RunMigrations(database); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := RunMigrations(database); err != nil {
		t.Fatalf("second run: %v", err)
	}
	version, dirty, err := GetMigrationVersion(database)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if version != 1 || dirty {
		t.Errorf("version=%d dirty=%v, want 1 clean", version, dirty)
	}
}
