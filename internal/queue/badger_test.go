package queue

import (
	"bytes"
	"os"
	"testing"
)

func TestBadgerKV(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "splitsync-badger-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	kv, err := OpenBadger(tempDir)
	if err != nil {
		t.Fatalf("OpenBadger failed: %v", err)
	}
	defer kv.Close()

	t.Run("absent key returns nil without error", func(t *testing.T) {
		v, err := kv.Get("missing")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if v != nil {
			t.Errorf("value = %v, want nil", v)
		}
	})

	t.Run("set then get", func(t *testing.T) {
		if err := kv.Set("sync_queue", []byte(`[]`)); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		v, err := kv.Get("sync_queue")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !bytes.Equal(v, []byte(`[]`)) {
			t.Errorf("value = %s, want []", v)
		}
	})

	t.Run("overwrite", func(t *testing.T) {
		if err := kv.Set("sync_queue", []byte(`[1]`)); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		v, err := kv.Get("sync_queue")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !bytes.Equal(v, []byte(`[1]`)) {
			t.Errorf("value = %s, want [1]", v)
		}
	})
}
