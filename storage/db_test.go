package storage

import (
	"errors"
	"path/filepath"
	"testing"
)

func exerciseDatabase(t *testing.T, db Database) {
	t.Helper()

	if _, err := db.Get([]byte("missing")); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("missing key: %v", err)
	}

	if err := db.Put([]byte("alpha"), []byte("one")); err != nil {
		t.Fatalf("put: %v", err)
	}
	value, err := db.Get([]byte("alpha"))
	if err != nil || string(value) != "one" {
		t.Fatalf("get = %q, %v", value, err)
	}

	// Overwrites replace the value.
	if err := db.Put([]byte("alpha"), []byte("two")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	value, err = db.Get([]byte("alpha"))
	if err != nil || string(value) != "two" {
		t.Fatalf("get after overwrite = %q, %v", value, err)
	}

	// Mutating the returned slice must not leak into the store.
	value[0] = 'X'
	value, err = db.Get([]byte("alpha"))
	if err != nil || string(value) != "two" {
		t.Fatalf("stored value aliased: %q, %v", value, err)
	}

	if err := db.Delete([]byte("alpha")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.Get([]byte("alpha")); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("deleted key: %v", err)
	}

	// Deleting an absent key is a no-op.
	if err := db.Delete([]byte("alpha")); err != nil {
		t.Fatalf("redundant delete: %v", err)
	}
}

func TestMemDB(t *testing.T) {
	db := NewMemDB()
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestLevelDB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leveldb")
	db, err := NewLevelDB(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	exerciseDatabase(t, db)

	// Values survive a close/reopen cycle.
	if err := db.Put([]byte("durable"), []byte("yes")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	reopened, err := NewLevelDB(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	value, err := reopened.Get([]byte("durable"))
	if err != nil || string(value) != "yes" {
		t.Fatalf("get after reopen = %q, %v", value, err)
	}
}

func TestBoltDB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meridian.bolt")
	db, err := NewBoltDB(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	exerciseDatabase(t, db)

	if err := db.Put([]byte("durable"), []byte("yes")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	reopened, err := NewBoltDB(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	value, err := reopened.Get([]byte("durable"))
	if err != nil || string(value) != "yes" {
		t.Fatalf("get after reopen = %q, %v", value, err)
	}
}
