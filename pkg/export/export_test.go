package export

import (
	"strings"
	"testing"
)

func sample() Dataset {
	return Dataset{
		Headers: []string{"RunNo", "ItemKey", "Qty"},
		Rows: []map[string]string{
			{"RunNo": "1001", "ItemKey": "FLOUR01", "Qty": "3.5"},
			{"RunNo": "1001", "ItemKey": "SUGAR02", "Qty": "1.25"},
		},
	}
}

func TestCSVRendersHeaderAndRows(t *testing.T) {
	out, err := CSV(sample())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 csv lines, got %d", len(lines))
	}
	if lines[0] != "RunNo,ItemKey,Qty" {
		t.Fatalf("unexpected header line: %s", lines[0])
	}
}

func TestCSVRequiresHeaders(t *testing.T) {
	if _, err := CSV(Dataset{}); err == nil {
		t.Fatalf("expected error for empty headers")
	}
}

func TestPDFRenders(t *testing.T) {
	out, err := PDF(sample(), "removal report")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) == 0 || !strings.HasPrefix(string(out), "%PDF") {
		t.Fatalf("expected pdf payload")
	}
}

func TestWriteFileRejectsUnknownFormat(t *testing.T) {
	if _, err := WriteFile(t.TempDir(), "r", "xlsx", sample(), ""); err == nil {
		t.Fatalf("expected error for unsupported format")
	}
}
