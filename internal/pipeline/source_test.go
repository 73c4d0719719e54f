package pipeline

import (
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
	"testing/iotest"
)

func readAll(t *testing.T, r io.Reader) []string {
	t.Helper()
	src := NewSource(r)
	var out []string
	for {
		rec, err := src.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("Next() error: %v", err)
		}
		if rec.Seq != int64(len(out)) {
			t.Fatalf("expected seq %d, got %d", len(out), rec.Seq)
		}
		out = append(out, string(rec.Data))
	}
}

func TestSource_Framing(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"ndjson", "[1]\n[2]\n", []string{"[1]", "[2]"}},
		{"crlf and blank lines", "[1]\r\n\r\n[2]\r\n", []string{"[1]", "[2]"}},
		{"concatenated", `[1][2]{"a":"]"}`, []string{"[1]", "[2]", `{"a":"]"}`}},
		{"pretty printed", "[\n  1,\n  {\"a\": [2]}\n]\n[3]", []string{"[\n  1,\n  {\"a\": [2]}\n]", "[3]"}},
		{"top-level array", `[ [1,"x"], [2,"y"] ]`, []string{`[1,"x"]`, `[2,"y"]`}},
		{"top-level array multiline", "[\n[1],\n[2]\n]\n", []string{"[1]", "[2]"}},
		{"empty array", `[]`, nil},
		{"escaped quotes", `["a\"]",1]` + "\n" + `["\\"]`, []string{`["a\"]",1]`, `["\\"]`}},
		{"scalars", `1 "two" null`, []string{"1", `"two"`, "null"}},
		{"empty", "", nil},
		{"whitespace only", " \n\t ", nil},
	}
	// Decompressors and HTTP bodies hand back their last bytes together with
	// io.EOF; framing must not depend on how reads are split.
	readers := map[string]func(string) io.Reader{
		"whole":    func(s string) io.Reader { return strings.NewReader(s) },
		"data+eof": func(s string) io.Reader { return iotest.DataErrReader(strings.NewReader(s)) },
		"one byte": func(s string) io.Reader { return iotest.OneByteReader(strings.NewReader(s)) },
	}
	for _, tt := range tests {
		for rname, mk := range readers {
			t.Run(tt.name+"/"+rname, func(t *testing.T) {
				got := readAll(t, mk(tt.input))
				if !reflect.DeepEqual(got, tt.want) {
					t.Errorf("got %q, want %q", got, tt.want)
				}
			})
		}
	}
}

func TestSource_Resync(t *testing.T) {
	input := "[1,0,}\n[2]\n}\n[3]\ngarbage\n[4,"
	got := readAll(t, strings.NewReader(input))
	want := []string{"[1,0,}", "[2]", "}", "[3]", "garbage", "[4,"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestSource_SmallReads(t *testing.T) {
	input := `[[1,"a b"],[2,{"k":"v"}]]` + "\n"
	got := readAll(t, iotest.OneByteReader(strings.NewReader(input)))
	want := []string{`[1,"a b"]`, `[2,{"k":"v"}]`}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestSource_ArrayAtEOF(t *testing.T) {
	ev := `[7,0,null,"Death",[],{"patient_id":7,"time":{"begin":0,"end":null},"domain":"Death","facts":{}}]`
	got := readAll(t, iotest.DataErrReader(strings.NewReader("[" + ev + "," + ev + "]")))
	if len(got) != 2 || got[0] != ev || got[1] != ev {
		t.Errorf("expected both array elements, got %q", got)
	}
}

func TestSource_ReadError(t *testing.T) {
	src := NewSource(iotest.ErrReader(errors.New("disk gone")))
	if _, err := src.Next(); err == nil || errors.Is(err, io.EOF) || !strings.Contains(err.Error(), "disk gone") {
		t.Errorf("expected read error, got %v", err)
	}
}
