package store

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"testing"
)

// Migrations are applied by lexical filename order, so the files must keep
// a zero-padded contiguous numbering and every up file needs its down twin.
func TestMigrationFilesArePairedAndOrdered(t *testing.T) {
	migrationsDir := filepath.Join("..", "..", "db", "migrations")
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	pattern := regexp.MustCompile(`^(\d{4})_[a-z0-9_]+\.(up|down)\.sql$`)
	byVersion := map[string]map[string]bool{}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		match := pattern.FindStringSubmatch(name)
		if match == nil {
			t.Fatalf("migration %s does not match NNNN_name.up/down.sql", name)
		}
		contents, err := os.ReadFile(filepath.Join(migrationsDir, name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if len(contents) == 0 {
			t.Fatalf("migration %s is empty", name)
		}
		version, direction := match[1], match[2]
		if byVersion[version] == nil {
			byVersion[version] = map[string]bool{}
		}
		if byVersion[version][direction] {
			t.Fatalf("duplicate %s migration for version %s", direction, version)
		}
		byVersion[version][direction] = true
	}

	if len(byVersion) == 0 {
		t.Fatal("no migrations discovered")
	}

	for n := 1; n <= len(byVersion); n++ {
		version := fmt.Sprintf("%04d", n)
		dirs, ok := byVersion[version]
		if !ok {
			t.Fatalf("version %s missing, numbering must be contiguous", version)
		}
		if !dirs["up"] || !dirs["down"] {
			t.Fatalf("version %s must include both up and down files", version)
		}
	}
}
