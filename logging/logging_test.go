package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNew_JSONAndLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New("signflow", "warn", "json", &buf)

	log.Info().Msg("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info must be filtered at warn level, got %q", buf.String())
	}

	log.Warn().Str("document_id", "doc-1").Msg("visible")
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["app"] != "signflow" || entry["document_id"] != "doc-1" || entry["message"] != "visible" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestNew_UnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := New("signflow", "chatty", "json", &buf)
	log.Debug().Msg("hidden")
	log.Info().Msg("shown")
	if !bytes.Contains(buf.Bytes(), []byte("shown")) || bytes.Contains(buf.Bytes(), []byte("hidden")) {
		t.Fatalf("unexpected output %q", buf.String())
	}
}
