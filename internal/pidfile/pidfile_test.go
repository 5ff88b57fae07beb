package pidfile

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/jaakkos/takopi-smithers/internal/domain"
)

// deadPID returns the PID of a process that has already exited and been reaped.
func deadPID(t *testing.T) int {
	t.Helper()
	cmd := exec.Command("true")
	if err := cmd.Run(); err != nil {
		t.Fatalf("run true: %v", err)
	}
	return cmd.Process.Pid
}

func TestWriteReadDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "supervisor.pid")

	if err := Write(path, os.Getpid()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	pid, ok := Read(path)
	if !ok || pid != os.Getpid() {
		t.Fatalf("Read = %d, %v; want %d, true", pid, ok, os.Getpid())
	}
	if err := Delete(path); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := Read(path); ok {
		t.Error("Read after Delete should report none")
	}
	if err := Delete(path); err != nil {
		t.Errorf("Delete of missing file: %v", err)
	}
}

func TestRead_StalePIDIsPurged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "supervisor.pid")
	if err := Write(path, deadPID(t)); err != nil {
		t.Fatal(err)
	}
	if _, ok := Read(path); ok {
		t.Fatal("Read should report none for a dead PID")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("stale PID file should be deleted")
	}
}

func TestRead_GarbageIsPurged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "supervisor.pid")
	if err := os.WriteFile(path, []byte("not-a-pid"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, ok := Read(path); ok {
		t.Fatal("garbage PID should read as none")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("garbage PID file should be deleted")
	}
}

func TestAlive(t *testing.T) {
	if !Alive(os.Getpid()) {
		t.Error("own process should be alive")
	}
	if Alive(0) || Alive(-5) {
		t.Error("non-positive PIDs are never alive")
	}
	if Alive(deadPID(t)) {
		t.Error("reaped process should not be alive")
	}
}

func TestUptime(t *testing.T) {
	d, ok := Uptime(os.Getpid())
	if !ok {
		t.Skip("process create time unavailable on this platform")
	}
	if d < 0 {
		t.Errorf("Uptime = %s, want >= 0", d)
	}
}

func TestAcquire_SecondHolderFails(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "supervisor.pid")
	first, err := Acquire(pidPath)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	// flock locks are per open file description, so a second Flock on the
	// same path conflicts even within one process.
	if _, err := Acquire(pidPath); !errors.Is(err, domain.ErrAlreadyRunning) {
		t.Errorf("second Acquire err = %v, want ErrAlreadyRunning", err)
	}

	if err := first.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	again, err := Acquire(pidPath)
	if err != nil {
		t.Fatalf("Acquire after Release: %v", err)
	}
	_ = again.Release()

	var nilLock *Lock
	if err := nilLock.Release(); err != nil {
		t.Errorf("nil Release: %v", err)
	}
}
