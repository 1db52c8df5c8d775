package compress

import (
	"bytes"
	"testing"
)

func TestParseTypeDefaultsToS2(t *testing.T) {
	got, err := ParseType("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != S2 {
		t.Fatalf("expected default S2, got %q", got)
	}
}

func TestParseTypeRejectsUnknown(t *testing.T) {
	if _, err := ParseType("bzip2"); err == nil {
		t.Fatal("expected an error for an unsupported codec name")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	src := bytes.Repeat([]byte("mongoreplicate"), 100)

	for _, typ := range []Type{None, Snappy, S2, LZ4, Gzip} {
		encoded, err := Encode(typ, src)
		if err != nil {
			t.Fatalf("%s: encode: %v", typ, err)
		}
		decoded, err := Decode(typ, encoded)
		if err != nil {
			t.Fatalf("%s: decode: %v", typ, err)
		}
		if !bytes.Equal(decoded, src) {
			t.Fatalf("%s: round trip mismatch", typ)
		}
	}
}

func TestDecodeSnappyFallsBackToS2OnCorruptInput(t *testing.T) {
	src := bytes.Repeat([]byte("archive-snapshot"), 50)
	encoded, err := Encode(S2, src)
	if err != nil {
		t.Fatalf("encode s2: %v", err)
	}

	decoded, err := Decode(Snappy, encoded)
	if err != nil {
		t.Fatalf("expected snappy decode to fall back to s2: %v", err)
	}
	if !bytes.Equal(decoded, src) {
		t.Fatalf("fallback decode mismatch")
	}
}

func TestExtMatchesCodec(t *testing.T) {
	cases := map[Type]string{
		None:   "",
		Snappy: ".snappy",
		S2:     ".s2",
		LZ4:    ".lz4",
		Gzip:   ".gz",
	}
	for typ, want := range cases {
		if got := Ext(typ); got != want {
			t.Fatalf("Ext(%s) = %q, want %q", typ, got, want)
		}
	}
}
