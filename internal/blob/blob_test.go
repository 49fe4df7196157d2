package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	fsStore, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("filesystem: %v", err)
	}
	return map[string]Store{
		"fs":     fsStore,
		"memory": NewMemory(),
		"s3":     NewMockS3ForTests(),
	}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			opts := PutOptions{ContentType: "text/csv", Metadata: map[string]string{"owner": "u1"}}
			info, err := st.Put(ctx, "reports/u1/2024-05/a.csv", bytes.NewBufferString("id,amount\n"), opts)
			if err != nil {
				t.Fatalf("put: %v", err)
			}
			if info.Key != "reports/u1/2024-05/a.csv" || info.Size != 10 {
				t.Fatalf("unexpected info %+v", info)
			}
			if _, err := st.Put(ctx, "reports/u1/2024-05/a.csv", bytes.NewBufferString("x"), PutOptions{}); !errors.Is(err, ErrExists) {
				t.Fatalf("expected ErrExists, got %v", err)
			}
			if _, err := st.Put(ctx, "reports/u2/2024-05/b.json", bytes.NewBufferString("{}"), PutOptions{ContentType: "application/json"}); err != nil {
				t.Fatalf("put second: %v", err)
			}

			got, rc, err := st.Get(ctx, "reports/u1/2024-05/a.csv")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			body, _ := io.ReadAll(rc)
			_ = rc.Close()
			if string(body) != "id,amount\n" || got.ContentType != "text/csv" {
				t.Fatalf("unexpected object %q %+v", body, got)
			}

			head, err := st.Head(ctx, "reports/u1/2024-05/a.csv")
			if err != nil || head.Size != 10 {
				t.Fatalf("head: %+v %v", head, err)
			}

			list, err := st.List(ctx, "reports/u1/")
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(list) != 1 || list[0].Key != "reports/u1/2024-05/a.csv" {
				t.Fatalf("unexpected list %+v", list)
			}

			if _, err := st.Head(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			if _, _, err := st.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound on get, got %v", err)
			}

			ok, err := st.Delete(ctx, "reports/u1/2024-05/a.csv")
			if err != nil || !ok {
				t.Fatalf("delete: %v %v", ok, err)
			}
			ok, err = st.Delete(ctx, "reports/u1/2024-05/a.csv")
			if err != nil || ok {
				t.Fatalf("second delete should report absent: %v %v", ok, err)
			}
		})
	}
}

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()
	st, err := Open(ctx, Config{FSRoot: t.TempDir()})
	if err != nil || st.Driver() != DriverFilesystem {
		t.Fatalf("default driver: %v %v", st, err)
	}
	st, err = Open(ctx, Config{Driver: DriverMemory})
	if err != nil || st.Driver() != DriverMemory {
		t.Fatalf("memory driver: %v %v", st, err)
	}
	if _, err := Open(ctx, Config{Driver: DriverS3}); err == nil {
		t.Fatalf("expected missing bucket error")
	}
	if _, err := Open(ctx, Config{Driver: "ftp"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}

func TestPresign(t *testing.T) {
	ctx := context.Background()
	if _, err := NewMemory().PresignURL(ctx, "k", SignedURLOptions{}); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("memory presign should be unsupported: %v", err)
	}
	url, err := NewMockS3ForTests().PresignURL(ctx, "reports/x.csv", SignedURLOptions{})
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if !bytes.Contains([]byte(url), []byte("X-Amz-Signature")) {
		t.Fatalf("expected signed url, got %s", url)
	}
}
