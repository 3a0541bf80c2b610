package wakelock

import (
	"os"
	"path/filepath"

	"github.com/c360/sensorhub/errors"
)

// DefaultSysfsDir is where the kernel exposes the wake lock interface.
const DefaultSysfsDir = "/sys/power"

// Lock is the underlying OS wake lock primitive. Acquire and Release are only
// called on refcount transitions, never nested.
type Lock interface {
	Acquire(name string) error
	Release(name string) error
}

// SysfsLock drives the kernel wake lock files wake_lock and wake_unlock.
type SysfsLock struct {
	dir string
}

// NewSysfsLock returns a lock writing into dir, or DefaultSysfsDir if empty.
func NewSysfsLock(dir string) *SysfsLock {
	if dir == "" {
		dir = DefaultSysfsDir
	}
	return &SysfsLock{dir: dir}
}

// Acquire writes name to wake_lock.
func (l *SysfsLock) Acquire(name string) error {
	return l.write("wake_lock", name, "Acquire")
}

// Release writes name to wake_unlock.
func (l *SysfsLock) Release(name string) error {
	return l.write("wake_unlock", name, "Release")
}

func (l *SysfsLock) write(file, name, method string) error {
	f, err := os.OpenFile(filepath.Join(l.dir, file), os.O_WRONLY, 0)
	if err != nil {
		return errors.WrapTransient(err, "SysfsLock", method, "open "+file)
	}
	defer f.Close()

	if _, err := f.WriteString(name); err != nil {
		return errors.WrapTransient(err, "SysfsLock", method, "write "+file)
	}
	return nil
}

// NopLock is used on hosts without a wake lock interface.
type NopLock struct{}

// Acquire does nothing.
func (NopLock) Acquire(string) error { return nil }

// Release does nothing.
func (NopLock) Release(string) error { return nil }
