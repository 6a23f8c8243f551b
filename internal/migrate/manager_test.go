package migrate

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/pressly/goose/v3"
)

func TestFilesAreOrdered(t *testing.T) {
	files, err := Files()
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if len(files) < 2 {
		t.Fatalf("expected embedded migrations, got %d", len(files))
	}
	for i := 1; i < len(files); i++ {
		if files[i].Version <= files[i-1].Version {
			t.Fatalf("migrations out of order: %+v", files)
		}
	}
}

func TestUpDownUseEmbeddedDir(t *testing.T) {
	origUp, origDown := gooseUpContext, gooseDownContext
	t.Cleanup(func() { gooseUpContext, gooseDownContext = origUp, origDown })

	var dirs []string
	gooseUpContext = func(_ context.Context, _ *sql.DB, dir string, _ ...goose.OptionsFunc) error {
		dirs = append(dirs, "up:"+dir)
		return nil
	}
	gooseDownContext = func(_ context.Context, _ *sql.DB, dir string, _ ...goose.OptionsFunc) error {
		dirs = append(dirs, "down:"+dir)
		return errors.New("no migration")
	}

	m, err := NewManager(nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := m.Up(context.Background()); err != nil {
		t.Fatalf("Up: %v", err)
	}
	if err := m.Down(context.Background()); err == nil || !strings.Contains(err.Error(), "migrate down") {
		t.Fatalf("expected wrapped down error, got %v", err)
	}
	if strings.Join(dirs, ",") != "up:sql,down:sql" {
		t.Fatalf("unexpected calls %v", dirs)
	}
}

func TestStatusMarksApplied(t *testing.T) {
	orig := gooseVersion
	t.Cleanup(func() { gooseVersion = orig })
	gooseVersion = func(context.Context, *sql.DB) (int64, error) { return 1, nil }

	m, err := NewManager(nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	lines, err := m.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !strings.Contains(lines[0], "applied") || !strings.Contains(lines[1], "pending") {
		t.Fatalf("unexpected status %v", lines)
	}
}
