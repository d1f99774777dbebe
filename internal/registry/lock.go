package registry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Mutations are serialized across processes with an advisory lock file
// created O_EXCL next to the registry. The file carries the owner's pid, a
// random token, and the acquisition time; release only removes the file if
// the token still matches, so a holder whose lock was reclaimed as stale
// can never delete the reclaimer's lock.

type lockOptions struct {
	timeout    time.Duration
	poll       time.Duration
	staleAfter time.Duration
}

type fileLock struct {
	path  string
	token string
}

func acquireLock(ctx context.Context, path string, o lockOptions) (*fileLock, error) {
	token := uuid.New().String()
	deadline := time.Now().Add(o.timeout)

	for {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err == nil {
			_, werr := fmt.Fprintf(f, "pid=%d\ntoken=%s\nacquired=%s\n",
				os.Getpid(), token, time.Now().UTC().Format(time.RFC3339))
			if cerr := f.Close(); werr == nil {
				werr = cerr
			}
			if werr != nil {
				_ = os.Remove(path)
				return nil, fmt.Errorf("failed to write lock file: %w", werr)
			}
			return &fileLock{path: path, token: token}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create lock file: %w", err)
		}

		// Held by someone else. A lock far past the stale ceiling belongs
		// to a process that died without cleanup; reclaim it.
		if fi, serr := os.Stat(path); serr == nil && o.staleAfter > 0 {
			if age := time.Since(fi.ModTime()); age > o.staleAfter {
				slog.Warn("reclaiming stale registry lock",
					"path", path, "age", age.Round(time.Second))
				_ = os.Remove(path)
				continue
			}
		}

		if time.Now().After(deadline) {
			return nil, &LockTimeoutError{Path: path, Timeout: o.timeout}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(o.poll):
		}
	}
}

// release removes the lock file. Safe to call on every exit path; it is a
// no-op if the lock was reclaimed by another process in the meantime.
func (l *fileLock) release() {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return
	}
	if !strings.Contains(string(data), "token="+l.token) {
		slog.Warn("registry lock no longer owned, leaving it in place", "path", l.path)
		return
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to remove registry lock", "path", l.path, "error", err)
	}
}
