package id

import "testing"

func TestNewDeterministic(t *testing.T) {
	a := New(KindBlob, []byte("hello"))
	b := New(KindBlob, []byte("hello"))
	if a != b {
		t.Fatalf("New(KindBlob, %q) not deterministic: %v != %v", "hello", a, b)
	}
	c := New(KindBlob, []byte("world"))
	if a == c {
		t.Fatalf("New should differ for different canonical bytes")
	}
}

func TestNewDiffersByKind(t *testing.T) {
	a := New(KindBlob, []byte("hello"))
	b := New(KindFile, []byte("hello"))
	if a == b {
		t.Fatalf("ids with the same canonical bytes but different kinds must differ")
	}
}

func TestStringParseRoundTrip(t *testing.T) {
	want := New(KindDirectory, []byte("some directory listing"))
	s := want.String()
	got, err := Parse(s)
	if err != nil {
		t.Fatalf("Parse(%q): %v", s, err)
	}
	if got != want {
		t.Fatalf("round trip mismatch: got %v, want %v", got, want)
	}
	if got.Kind() != KindDirectory {
		t.Fatalf("got kind %v, want %v", got.Kind(), KindDirectory)
	}
}

func TestStringHasKindPrefix(t *testing.T) {
	cases := []struct {
		kind   Kind
		prefix string
	}{
		{KindDirectory, "dir_"},
		{KindFile, "fil_"},
		{KindSymlink, "sym_"},
		{KindBlob, "blb_"},
		{KindGraph, "gph_"},
		{KindCommand, "cmd_"},
		{KindProcess, "prc_"},
		{KindError, "err_"},
		{KindTag, "tag_"},
	}
	for _, c := range cases {
		got := New(c.kind, []byte("x")).String()
		if len(got) < len(c.prefix) || got[:len(c.prefix)] != c.prefix {
			t.Fatalf("kind %v: got %q, want prefix %q", c.kind, got, c.prefix)
		}
	}
}

func TestParseRejectsMissingPrefix(t *testing.T) {
	if _, err := Parse("nounderscorehere"); err == nil {
		t.Fatalf("expected error for missing kind prefix")
	}
}

func TestParseRejectsUnknownKind(t *testing.T) {
	if _, err := Parse("zzz_abcdefg"); err == nil {
		t.Fatalf("expected error for unknown kind tag")
	}
}

func TestParseRejectsInvalidBase32(t *testing.T) {
	if _, err := Parse("blb_not-valid-base32!!!"); err == nil {
		t.Fatalf("expected error for invalid base32 payload")
	}
}

func TestFromRawRejectsWrongLength(t *testing.T) {
	if _, err := FromRaw(KindBlob, []byte{1, 2, 3}); err == nil {
		t.Fatalf("expected error for short raw payload")
	}
}

func TestFromRawRejectsKindMismatch(t *testing.T) {
	raw := New(KindBlob, []byte("x")).Raw()
	if _, err := FromRaw(KindFile, raw); err == nil {
		t.Fatalf("expected error for kind tag mismatch")
	}
}

func TestIsZero(t *testing.T) {
	var zero ID
	if !zero.IsZero() {
		t.Fatalf("zero value ID should report IsZero")
	}
	if zero.String() != "" {
		t.Fatalf("zero value ID should render as empty string, got %q", zero.String())
	}
	set := New(KindBlob, []byte("x"))
	if set.IsZero() {
		t.Fatalf("constructed ID should not report IsZero")
	}
}

func TestMarshalUnmarshalText(t *testing.T) {
	want := New(KindTag, []byte("release/1.0"))
	text, err := want.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	var got ID
	if err := got.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch: got %v, want %v", got, want)
	}
}

func TestEqual(t *testing.T) {
	a := New(KindBlob, []byte("x"))
	b := New(KindBlob, []byte("x"))
	c := New(KindBlob, []byte("y"))
	if !a.Equal(b) {
		t.Fatalf("expected equal ids to be Equal")
	}
	if a.Equal(c) {
		t.Fatalf("expected different ids to not be Equal")
	}
}
