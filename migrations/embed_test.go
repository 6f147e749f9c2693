package migrations

import (
	"io/fs"
	"strings"
	"testing"
)

func TestEveryUpHasDown(t *testing.T) {
	ups, err := fs.Glob(FS, "*.up.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(ups) == 0 {
		t.Fatal("expected embedded migrations")
	}
	for _, up := range ups {
		down := strings.TrimSuffix(up, ".up.sql") + ".down.sql"
		if _, err := fs.Stat(FS, down); err != nil {
			t.Fatalf("missing %s for %s", down, up)
		}
	}
}

func TestSchemaDeclaresLeadLinkUnique(t *testing.T) {
	data, err := fs.ReadFile(FS, "0001_leads_conversations.up.sql")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), "lead_id    UUID UNIQUE REFERENCES leads") {
		t.Fatal("conversations.lead_id must be unique so a lead belongs to one session")
	}
}
