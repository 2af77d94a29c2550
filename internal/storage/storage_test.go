package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/hyperjump/kotoba/internal/models"
)

var backends = []Backend{BackendBolt, BackendSQLite}

func openTable(t *testing.T, backend Backend, path string) ResponseTable {
	t.Helper()
	table, err := NewResponseTable(string(backend), path, Options{OpenTimeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	return table
}

func TestResponseTable_AppendAndGet(t *testing.T) {
	for _, backend := range backends {
		t.Run(string(backend), func(t *testing.T) {
			table := openTable(t, backend, filepath.Join(t.TempDir(), "responses.db"))
			defer table.Close()
			ctx := context.Background()

			if _, ok, err := table.Get(ctx, []byte("k1")); err != nil || ok {
				t.Fatalf("Get on empty table: ok=%v err=%v", ok, err)
			}

			if err := table.Append(ctx, []byte("k1"), models.Response{Plain: "one"}); err != nil {
				t.Fatal(err)
			}
			if err := table.Append(ctx, []byte("k1"), models.Response{Plain: "two", HTML: "<b>two</b>"}); err != nil {
				t.Fatal(err)
			}
			if err := table.Append(ctx, []byte("k2"), models.Response{Plain: "other"}); err != nil {
				t.Fatal(err)
			}

			bucket, ok, err := table.Get(ctx, []byte("k1"))
			if err != nil || !ok {
				t.Fatalf("Get k1: ok=%v err=%v", ok, err)
			}
			want := models.Bucket{{Plain: "one"}, {Plain: "two", HTML: "<b>two</b>"}}
			if len(bucket) != len(want) {
				t.Fatalf("expected %d responses, got %d", len(want), len(bucket))
			}
			for i := range want {
				if bucket[i] != want[i] {
					t.Errorf("response %d: expected %+v, got %+v", i, want[i], bucket[i])
				}
			}

			count, err := table.Count(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if count != 2 {
				t.Errorf("expected 2 keys, got %d", count)
			}
		})
	}
}

func TestResponseTable_ForEach(t *testing.T) {
	for _, backend := range backends {
		t.Run(string(backend), func(t *testing.T) {
			table := openTable(t, backend, filepath.Join(t.TempDir(), "responses.db"))
			defer table.Close()
			ctx := context.Background()

			for i := 0; i < 5; i++ {
				key := []byte(fmt.Sprintf("key-%d", i))
				if err := table.Append(ctx, key, models.Response{Plain: fmt.Sprintf("r%d", i)}); err != nil {
					t.Fatal(err)
				}
			}

			seen := map[string]string{}
			err := table.ForEach(ctx, func(key []byte, bucket models.Bucket) error {
				seen[string(key)] = bucket[0].Plain
				return nil
			})
			if err != nil {
				t.Fatal(err)
			}
			if len(seen) != 5 {
				t.Fatalf("expected 5 pairs, got %d", len(seen))
			}
			if seen["key-3"] != "r3" {
				t.Errorf("expected r3, got %q", seen["key-3"])
			}

			stop := errors.New("stop")
			calls := 0
			err = table.ForEach(ctx, func([]byte, models.Bucket) error {
				calls++
				return stop
			})
			if !errors.Is(err, stop) {
				t.Errorf("expected callback error, got %v", err)
			}
			if calls != 1 {
				t.Errorf("expected iteration to stop after 1 call, got %d", calls)
			}
		})
	}
}

func TestResponseTable_ConcurrentAppendLosesNothing(t *testing.T) {
	for _, backend := range backends {
		t.Run(string(backend), func(t *testing.T) {
			table := openTable(t, backend, filepath.Join(t.TempDir(), "responses.db"))
			defer table.Close()
			ctx := context.Background()

			const workers, perWorker = 8, 10
			var wg sync.WaitGroup
			errs := make(chan error, workers*perWorker)
			for w := 0; w < workers; w++ {
				wg.Add(1)
				go func(w int) {
					defer wg.Done()
					for i := 0; i < perWorker; i++ {
						r := models.Response{Plain: fmt.Sprintf("w%d-%d", w, i)}
						if err := table.Append(ctx, []byte("shared"), r); err != nil {
							errs <- err
						}
					}
				}(w)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				t.Fatal(err)
			}

			bucket, ok, err := table.Get(ctx, []byte("shared"))
			if err != nil || !ok {
				t.Fatalf("Get: ok=%v err=%v", ok, err)
			}
			if len(bucket) != workers*perWorker {
				t.Fatalf("expected %d responses, got %d", workers*perWorker, len(bucket))
			}
			seen := make(map[string]bool, len(bucket))
			for _, r := range bucket {
				seen[r.Plain] = true
			}
			if len(seen) != workers*perWorker {
				t.Errorf("expected %d distinct responses, got %d", workers*perWorker, len(seen))
			}
		})
	}
}

func TestResponseTable_Reopen(t *testing.T) {
	for _, backend := range backends {
		t.Run(string(backend), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", "responses.db")
			ctx := context.Background()

			table := openTable(t, backend, path)
			if err := table.Append(ctx, []byte("k"), models.Response{Plain: "kept"}); err != nil {
				t.Fatal(err)
			}
			if err := table.SetImportFingerprint(ctx, "file-1", "100:20"); err != nil {
				t.Fatal(err)
			}
			if err := table.Close(); err != nil {
				t.Fatal(err)
			}

			table = openTable(t, backend, path)
			defer table.Close()
			bucket, ok, err := table.Get(ctx, []byte("k"))
			if err != nil || !ok {
				t.Fatalf("Get after reopen: ok=%v err=%v", ok, err)
			}
			if bucket[0].Plain != "kept" {
				t.Errorf("expected kept, got %q", bucket[0].Plain)
			}
			fp, ok, err := table.ImportFingerprint(ctx, "file-1")
			if err != nil || !ok || fp != "100:20" {
				t.Errorf("fingerprint after reopen: fp=%q ok=%v err=%v", fp, ok, err)
			}
		})
	}
}

func TestResponseTable_ImportFingerprint(t *testing.T) {
	for _, backend := range backends {
		t.Run(string(backend), func(t *testing.T) {
			table := openTable(t, backend, filepath.Join(t.TempDir(), "responses.db"))
			defer table.Close()
			ctx := context.Background()

			if _, ok, err := table.ImportFingerprint(ctx, "missing"); err != nil || ok {
				t.Fatalf("expected no fingerprint, ok=%v err=%v", ok, err)
			}
			if err := table.SetImportFingerprint(ctx, "f", "1:1"); err != nil {
				t.Fatal(err)
			}
			if err := table.SetImportFingerprint(ctx, "f", "2:2"); err != nil {
				t.Fatal(err)
			}
			fp, ok, err := table.ImportFingerprint(ctx, "f")
			if err != nil || !ok {
				t.Fatalf("ok=%v err=%v", ok, err)
			}
			if fp != "2:2" {
				t.Errorf("expected overwritten fingerprint 2:2, got %q", fp)
			}
		})
	}
}

func TestBoltTable_CorruptValue(t *testing.T) {
	table, err := NewBoltTable(filepath.Join(t.TempDir(), "responses.db"), Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer table.Close()
	ctx := context.Background()

	err = table.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(responsesBucket).Put([]byte("bad"), []byte{0xc1})
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, _, err := table.Get(ctx, []byte("bad")); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Get: expected ErrCorrupt, got %v", err)
	}
	err = table.ForEach(ctx, func([]byte, models.Bucket) error { return nil })
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("ForEach: expected ErrCorrupt, got %v", err)
	}
	if err := table.Append(ctx, []byte("bad"), models.Response{Plain: "x"}); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Append: expected ErrCorrupt, got %v", err)
	}
}

func TestSQLiteTable_CorruptValue(t *testing.T) {
	table, err := NewSQLiteTable(filepath.Join(t.TempDir(), "responses.db"), Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer table.Close()
	ctx := context.Background()

	if _, err := table.db.Exec(`INSERT INTO responses (key, bucket) VALUES (?, ?)`, []byte("bad"), []byte{0xc1}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := table.Get(ctx, []byte("bad")); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Get: expected ErrCorrupt, got %v", err)
	}
	err = table.ForEach(ctx, func([]byte, models.Bucket) error { return nil })
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("ForEach: expected ErrCorrupt, got %v", err)
	}
}

func TestNewResponseTable_UnknownBackend(t *testing.T) {
	_, err := NewResponseTable("redis", filepath.Join(t.TempDir(), "x"), Options{})
	if err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
