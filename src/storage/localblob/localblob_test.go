package localblob

import (
	"context"
	"strings"
	"testing"
)

func TestPutGetDelete(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}
	ctx := context.Background()

	key := "results/acme/42.json"
	if err := store.Put(ctx, key, []byte(`{"ok":true}`)); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	data, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if string(data) != `{"ok":true}` {
		t.Errorf("Get() = %s", data)
	}

	keys, err := store.List(ctx, "results/acme/")
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(keys) != 1 || keys[0] != key {
		t.Errorf("List() = %v, want [%s]", keys, key)
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := store.Get(ctx, key); err == nil {
		t.Error("Get() succeeded after delete")
	}
}

func TestRejectsTraversalKeys(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}

	for _, key := range []string{"", "../escape", "/etc/passwd", "a/../../b"} {
		if err := store.Put(context.Background(), key, []byte("x")); err == nil {
			t.Errorf("Put(%q) accepted an unsafe key", key)
		}
	}
}

func TestSignURLPointsAtFile(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}

	url, err := store.SignURL(context.Background(), "b/o.json", 0)
	if err != nil {
		t.Fatalf("SignURL() error: %v", err)
	}
	if !strings.HasPrefix(url, "file://") || !strings.HasSuffix(url, "b/o.json") {
		t.Errorf("SignURL() = %s", url)
	}
}
