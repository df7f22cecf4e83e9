package audit

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	l := NewLogger(t.TempDir())
	key := bytes.Repeat([]byte{0x42}, 32)
	if err := l.SetHMACKey(key); err != nil {
		t.Fatalf("SetHMACKey failed: %v", err)
	}
	return l
}

func TestLogRequiresHMACKey(t *testing.T) {
	l := NewLogger(t.TempDir())
	if err := l.LogSuccess(OpVaultUnlock, ""); err == nil {
		t.Error("Log without HMAC key should fail")
	}
}

func TestLogWritesChainedEvents(t *testing.T) {
	l := newTestLogger(t)

	if err := l.LogSuccess(OpVaultUnlock, ""); err != nil {
		t.Fatalf("LogSuccess failed: %v", err)
	}
	if err := l.LogSuccess(OpCredentialEncrypt, "db-server-01"); err != nil {
		t.Fatalf("LogSuccess failed: %v", err)
	}
	if err := l.LogError(OpCredentialDecrypt, "db-server-01", "AUTH_FAILED", "bad key"); err != nil {
		t.Fatalf("LogError failed: %v", err)
	}

	filename := time.Now().UTC().Format("2006-01") + ".jsonl"
	data, err := os.ReadFile(filepath.Join(l.path, filename))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 records, got %d", len(lines))
	}

	var prev Event
	for i, line := range lines {
		var event Event
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			t.Fatalf("record %d is not valid JSON: %v", i, err)
		}
		if event.Chain.Sequence != int64(i+1) {
			t.Errorf("record %d sequence = %d, want %d", i, event.Chain.Sequence, i+1)
		}
		if i == 0 {
			if event.Chain.PrevHash != chainGenesis {
				t.Errorf("first record prev hash = %q, want genesis", event.Chain.PrevHash)
			}
		} else if event.Chain.PrevHash != prev.Chain.HMAC {
			t.Errorf("record %d chain break", i)
		}
		prev = event
	}
}

func TestServerNameIsNeverLoggedPlain(t *testing.T) {
	l := newTestLogger(t)

	const server = "top-secret-hostname"
	if err := l.LogSuccess(OpCredentialEncrypt, server); err != nil {
		t.Fatalf("LogSuccess failed: %v", err)
	}

	filename := time.Now().UTC().Format("2006-01") + ".jsonl"
	data, err := os.ReadFile(filepath.Join(l.path, filename))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(data), server) {
		t.Error("plaintext server name found in audit log")
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	l := newTestLogger(t)

	for i := 0; i < 5; i++ {
		if err := l.LogSuccess(OpCredentialDecrypt, "srv"); err != nil {
			t.Fatalf("LogSuccess failed: %v", err)
		}
	}

	result, err := l.Verify()
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !result.Valid {
		t.Fatalf("untampered chain reported invalid: %v", result.Errors)
	}
	if result.RecordsTotal != 5 {
		t.Errorf("RecordsTotal = %d, want 5", result.RecordsTotal)
	}

	// Flip a result field in the middle record
	filename := time.Now().UTC().Format("2006-01") + ".jsonl"
	logPath := filepath.Join(l.path, filename)
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	tampered := strings.Replace(string(data), `"result":"success"`, `"result":"error"`, 3)
	if err := os.WriteFile(logPath, []byte(tampered), 0600); err != nil {
		t.Fatalf("write tampered log: %v", err)
	}

	result, err = l.Verify()
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if result.Valid {
		t.Error("tampered chain reported valid")
	}
}

func TestChainStatePersistsAcrossLoggers(t *testing.T) {
	dir := t.TempDir()
	key := bytes.Repeat([]byte{0x42}, 32)

	l1 := NewLogger(dir)
	if err := l1.SetHMACKey(key); err != nil {
		t.Fatalf("SetHMACKey failed: %v", err)
	}
	if err := l1.LogSuccess(OpVaultUnlock, ""); err != nil {
		t.Fatalf("LogSuccess failed: %v", err)
	}

	// A new logger (new process) continues the chain
	l2 := NewLogger(dir)
	if err := l2.SetHMACKey(key); err != nil {
		t.Fatalf("SetHMACKey failed: %v", err)
	}
	if err := l2.LogSuccess(OpVaultLock, ""); err != nil {
		t.Fatalf("LogSuccess failed: %v", err)
	}

	result, err := l2.Verify()
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !result.Valid {
		t.Errorf("cross-process chain invalid: %v", result.Errors)
	}
	if result.RecordsTotal != 2 {
		t.Errorf("RecordsTotal = %d, want 2", result.RecordsTotal)
	}
}
