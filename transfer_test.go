package modelfetch

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func newTestTransfer(t *testing.T, rawURL string, client HTTPClient) (*transfer, *atomic.Bool) {
	t.Helper()

	st, err := newStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cancelled := new(atomic.Bool)
	xfer := newTransfer(rawURL, st.destinationPath("model.bin"), st, &opener{httpClient: client}, cancelled, nopLogger{})
	return xfer, cancelled
}

func assertNoFile(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("%s exists (stat err = %v)", filepath.Base(path), err)
	}
}

func TestTransferSuccess(t *testing.T) {
	data := payload(100 * 1024)
	cat := newTestCatalog(t)
	cat.addModel("Model", "model.bin", data)

	xfer, _ := newTestTransfer(t, cat.URL()+"/model.bin", cat.client())

	var last int64
	var calls int
	xfer.onProgress = func(written int64) {
		if written < last {
			t.Errorf("progress went backwards: %d after %d", written, last)
		}
		last = written
		calls++
	}

	n, err := xfer.run(context.Background())
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if n != int64(len(data)) {
		t.Errorf("run() = %d bytes, want %d", n, len(data))
	}
	if last != n || calls == 0 {
		t.Errorf("progress ended at %d after %d calls, want %d", last, calls, n)
	}
	if xfer.bytesWritten() != n {
		t.Errorf("bytesWritten() = %d, want %d", xfer.bytesWritten(), n)
	}

	// The transfer never renames on its own
	assertNoFile(t, xfer.dest)

	if err := xfer.verify(context.Background(), ModelDescriptor{Size: n, Checksum: Checksum{Algorithm: "md5", Value: md5Hex(data)}}); err != nil {
		t.Fatalf("verify() error = %v", err)
	}
	if err := xfer.promote(); err != nil {
		t.Fatalf("promote() error = %v", err)
	}

	got, err := os.ReadFile(xfer.dest)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Error("destination content differs from source")
	}
	assertNoFile(t, xfer.part)
}

func TestTransferDestinationExists(t *testing.T) {
	cat := newTestCatalog(t)
	cat.addModel("Model", "model.bin", payload(10))

	xfer, _ := newTestTransfer(t, cat.URL()+"/model.bin", cat.client())
	if err := os.WriteFile(xfer.dest, []byte("existing"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := xfer.run(context.Background())
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	got, _ := os.ReadFile(xfer.dest)
	if string(got) != "existing" {
		t.Errorf("existing file modified: %q", got)
	}
	if hits := cat.artifactHits.Load(); hits != 0 {
		t.Errorf("source requested %d times, want 0", hits)
	}
	assertNoFile(t, xfer.part)
}

func TestTransferSourceNotFound(t *testing.T) {
	cat := newTestCatalog(t)

	xfer, _ := newTestTransfer(t, cat.URL()+"/model.bin", cat.client())
	_, err := xfer.run(context.Background())
	if !errors.Is(err, ErrSourceNotFound) {
		t.Fatalf("expected ErrSourceNotFound, got %v", err)
	}
	assertNoFile(t, xfer.part)
	assertNoFile(t, xfer.dest)
}

func TestTransferInterrupted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100000")
		w.Write(payload(1000))
		w.(http.Flusher).Flush()

		// Drop the connection mid-body
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Error("response writer cannot hijack")
			return
		}
		conn, _, err := hj.Hijack()
		if err != nil {
			t.Error(err)
			return
		}
		conn.Close()
	}))
	defer server.Close()

	xfer, _ := newTestTransfer(t, server.URL+"/model.bin", server.Client())
	n, err := xfer.run(context.Background())
	if !errors.Is(err, ErrTransferInterrupted) {
		t.Fatalf("expected ErrTransferInterrupted, got %v", err)
	}
	if n == 0 {
		t.Error("expected some bytes before the interruption")
	}
	assertNoFile(t, xfer.part)
	assertNoFile(t, xfer.dest)
}

func TestTransferCancelled(t *testing.T) {
	t.Run("before start", func(t *testing.T) {
		cat := newTestCatalog(t)
		cat.addModel("Model", "model.bin", payload(10))

		xfer, cancelled := newTestTransfer(t, cat.URL()+"/model.bin", cat.client())
		cancelled.Store(true)

		_, err := xfer.run(context.Background())
		if !errors.Is(err, ErrCancelled) {
			t.Fatalf("expected ErrCancelled, got %v", err)
		}
		if hits := cat.artifactHits.Load(); hits != 0 {
			t.Errorf("source requested %d times, want 0", hits)
		}
		assertNoFile(t, xfer.part)
	})

	t.Run("mid stream", func(t *testing.T) {
		cat := newTestCatalog(t)
		cat.addModel("Model", "model.bin", payload(1<<20))
		cat.gate(t, "model.bin")

		xfer, cancelled := newTestTransfer(t, cat.URL()+"/model.bin", cat.client())
		xfer.onProgress = func(int64) { cancelled.Store(true) }

		n, err := xfer.run(context.Background())
		if !errors.Is(err, ErrCancelled) {
			t.Fatalf("expected ErrCancelled, got %v", err)
		}
		if n > transferBufferSize {
			t.Errorf("consumed %d bytes after cancel, want at most one buffer", n)
		}
		assertNoFile(t, xfer.part)
		assertNoFile(t, xfer.dest)
	})

	t.Run("context cancelled", func(t *testing.T) {
		cat := newTestCatalog(t)
		cat.addModel("Model", "model.bin", payload(1<<20))
		cat.gate(t, "model.bin")

		xfer, _ := newTestTransfer(t, cat.URL()+"/model.bin", cat.client())
		ctx, cancel := context.WithCancel(context.Background())
		xfer.onProgress = func(int64) { cancel() }

		_, err := xfer.run(ctx)
		if !errors.Is(err, ErrCancelled) {
			t.Fatalf("expected ErrCancelled, got %v", err)
		}
		assertNoFile(t, xfer.part)
	})
}

func TestTransferDeadline(t *testing.T) {
	cat := newTestCatalog(t)
	cat.addModel("Model", "model.bin", payload(1<<20))
	cat.gate(t, "model.bin")

	xfer, _ := newTestTransfer(t, cat.URL()+"/model.bin", cat.client())
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := xfer.run(ctx)
	if !errors.Is(err, ErrTransferInterrupted) {
		t.Fatalf("expected ErrTransferInterrupted, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded in chain, got %v", err)
	}
	assertNoFile(t, xfer.part)
}

func TestTransferPartFile(t *testing.T) {
	t.Run("held by another writer", func(t *testing.T) {
		cat := newTestCatalog(t)
		cat.addModel("Model", "model.bin", payload(10))

		xfer, _ := newTestTransfer(t, cat.URL()+"/model.bin", cat.client())
		if err := os.MkdirAll(filepath.Dir(xfer.part), 0755); err != nil {
			t.Fatal(err)
		}
		other, err := newFileLock(xfer.part)
		if err != nil {
			t.Fatal(err)
		}
		if err := other.TryLock(); err != nil {
			t.Fatal(err)
		}
		defer other.Unlock()

		_, err = xfer.run(context.Background())
		if !errors.Is(err, ErrAlreadyExists) {
			t.Fatalf("expected ErrAlreadyExists, got %v", err)
		}
		if _, err := os.Stat(xfer.part); err != nil {
			t.Errorf("other writer's part file removed: %v", err)
		}
	})

	t.Run("stale file reused", func(t *testing.T) {
		data := payload(64)
		cat := newTestCatalog(t)
		cat.addModel("Model", "model.bin", data)

		xfer, _ := newTestTransfer(t, cat.URL()+"/model.bin", cat.client())
		if err := os.WriteFile(xfer.part, bytes.Repeat([]byte("x"), 4096), 0644); err != nil {
			t.Fatal(err)
		}

		if _, err := xfer.run(context.Background()); err != nil {
			t.Fatalf("run() error = %v", err)
		}
		if err := xfer.promote(); err != nil {
			t.Fatalf("promote() error = %v", err)
		}
		got, _ := os.ReadFile(xfer.dest)
		if !bytes.Equal(got, data) {
			t.Errorf("stale bytes survived: got %d bytes, want %d", len(got), len(data))
		}
	})
}

func TestTransferDiscard(t *testing.T) {
	cat := newTestCatalog(t)
	cat.addModel("Model", "model.bin", payload(10))

	xfer, _ := newTestTransfer(t, cat.URL()+"/model.bin", cat.client())
	if _, err := xfer.run(context.Background()); err != nil {
		t.Fatal(err)
	}

	xfer.discard()
	assertNoFile(t, xfer.part)
	assertNoFile(t, xfer.dest)

	// Safe to repeat
	xfer.discard()
	if err := xfer.promote(); !errors.Is(err, ErrStorageError) {
		t.Errorf("promote() after discard = %v, want ErrStorageError", err)
	}
}
