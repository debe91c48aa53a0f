package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDir(t *testing.T) {
	home, _ := os.UserHomeDir()
	got := Dir("main")
	want := filepath.Join(home, ".vchat", "sessions", "main")
	if got != want {
		t.Errorf("Dir(main) = %q, want %q", got, want)
	}
}

func TestStoreDBPath(t *testing.T) {
	got := StoreDBPath("test")
	if !strings.HasSuffix(got, filepath.Join("sessions", "test", "store.db")) {
		t.Errorf("StoreDBPath(test) = %q, want suffix sessions/test/store.db", got)
	}
}

func TestLockPath(t *testing.T) {
	got := LockPath("test")
	if !strings.HasSuffix(got, filepath.Join("sessions", "test", "LOCK")) {
		t.Errorf("LockPath(test) = %q, want suffix sessions/test/LOCK", got)
	}
}

func TestLogPath(t *testing.T) {
	got := LogPath("test")
	if !strings.HasSuffix(got, filepath.Join("logs", "vchatd.log")) {
		t.Errorf("LogPath(test) = %q, want suffix logs/vchatd.log", got)
	}
}
