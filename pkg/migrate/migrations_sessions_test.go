package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/angelmondragon/patungan-backend/pkg/migrate"
)

func TestMigrationsDirIsValid(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations dir: %v", err)
	}
}

func TestParticipantsMigrationContainsConstraints(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_session_participants.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no session participants migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	txt := string(data)

	for _, fragment := range []string{
		"ux_session_participants_active_user",
		"CHECK (quantity > 0)",
		"effective_unit_price",
	} {
		if !strings.Contains(txt, fragment) {
			t.Fatalf("participants migration missing %q", fragment)
		}
	}
}

func TestEscrowMigrationDedupesTasks(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_escrow_tasks.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no escrow tasks migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	if !strings.Contains(string(data), "ux_escrow_tasks_dedup_key") {
		t.Fatalf("escrow migration missing dedup unique index")
	}
}
