package pipeline

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

const payload = "[1]\n[2]\n"

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestOpenInput_Compression(t *testing.T) {
	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	zw.Write([]byte(payload))
	zw.Close()

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatal(err)
	}
	zst := enc.EncodeAll([]byte(payload), nil)
	enc.Close()

	tests := []struct {
		name string
		file string
		data []byte
	}{
		{"plain", "events.ndjson", []byte(payload)},
		// the format is sniffed, not taken from the extension
		{"gzip", "events.bin", gz.Bytes()},
		{"zstd", "events.zst", zst},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := OpenInput(writeFile(t, tt.file, tt.data))
			if err != nil {
				t.Fatalf("OpenInput() error: %v", err)
			}
			defer r.Close()
			got, err := io.ReadAll(r)
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if string(got) != payload {
				t.Errorf("got %q, want %q", got, payload)
			}
		})
	}
}

func TestOpenInput_GzippedArray(t *testing.T) {
	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	zw.Write([]byte(`[[1,"a"],[2,"b"]]`))
	zw.Close()

	r, err := OpenInput(writeFile(t, "events.json.gz", gz.Bytes()))
	if err != nil {
		t.Fatalf("OpenInput() error: %v", err)
	}
	defer r.Close()
	got := readAll(t, r)
	if want := []string{`[1,"a"]`, `[2,"b"]`}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestOpenInput_Missing(t *testing.T) {
	_, err := OpenInput(filepath.Join(t.TempDir(), "nope.ndjson"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestReadFile(t *testing.T) {
	data, err := ReadFile(writeFile(t, "tiny.json", []byte("[")))
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if string(data) != "[" {
		t.Errorf("got %q", data)
	}

	empty, err := ReadFile(writeFile(t, "empty.json", nil))
	if err != nil || len(empty) != 0 {
		t.Errorf("expected empty file to read cleanly, got %q, %v", empty, err)
	}
}

func TestDecompress_Truncated(t *testing.T) {
	_, err := Decompress(strings.NewReader("\x1f\x8b"))
	if err == nil {
		t.Error("expected truncated gzip header to fail")
	}
}
