package storage

import (
	"bytes"
	"context"
	"testing"
)

func TestSourceArchiveCompressesAndRestores(t *testing.T) {
	t.Parallel()
	mem := NewMemoryStorage()
	archive := NewSourceArchive(mem, "sources", "")
	ctx := context.Background()

	source := bytes.Repeat([]byte("int main() { return 0; }\n"), 200)
	key, err := archive.Put(ctx, "sub-1", source)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if key != "submissions/sub-1/source.zst" {
		t.Fatalf("unexpected key %q", key)
	}

	raw := mem.objects["sources/"+key]
	if len(raw) == 0 || len(raw) >= len(source) {
		t.Fatalf("expected compressed object smaller than source, got %d bytes", len(raw))
	}

	got, err := archive.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got, source) {
		t.Fatalf("restored source differs")
	}
}
