package checksum

import (
	"strings"
	"testing"
)

func TestParseLine(t *testing.T) {
	d := SumBytes([]byte("hello"))
	hexd := d.String()

	tests := []struct {
		name     string
		line     string
		wantOK   bool
		wantName string
	}{
		{name: "canonical line", line: "a.png: " + hexd, wantOK: true, wantName: "a.png"},
		{name: "trailing whitespace and CR", line: "a.png: " + hexd + " \r", wantOK: true, wantName: "a.png"},
		{name: "uppercase hex", line: "a.png: " + strings.ToUpper(hexd), wantOK: true, wantName: "a.png"},
		{name: "name with spaces", line: "my photo.png: " + hexd, wantOK: true, wantName: "my photo.png"},
		{name: "pipe delimiter is not accepted", line: "a.png|" + hexd, wantOK: false},
		{name: "missing separator", line: "a.png " + hexd, wantOK: false},
		{name: "short digest", line: "a.png: abcd", wantOK: false},
		{name: "non-hex digest", line: "a.png: " + strings.Repeat("z", 32), wantOK: false},
		{name: "empty name", line: ": " + hexd, wantOK: false},
		{name: "garbage", line: "garbage", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, ok := parseLine(tt.line)
			if ok != tt.wantOK {
				t.Fatalf("parseLine(%q) ok = %v, want %v", tt.line, ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if e.FileName != tt.wantName {
				t.Errorf("FileName = %q, want %q", e.FileName, tt.wantName)
			}
			if e.Digest != d {
				t.Errorf("Digest = %s, want %s", e.Digest, d)
			}
		})
	}
}

func TestFormatLine_RoundTrip(t *testing.T) {
	e := Entry{FileName: "20240115_103000_000_clipboard.png", Digest: SumBytes([]byte("x"))}
	line := formatLine(e)

	if !strings.HasSuffix(line, "\n") {
		t.Fatalf("formatLine() = %q, want trailing newline", line)
	}
	got, ok := parseLine(line)
	if !ok {
		t.Fatalf("parseLine(formatLine()) failed for %q", line)
	}
	if got != e {
		t.Errorf("round trip = %+v, want %+v", got, e)
	}
}

func TestReadEntries(t *testing.T) {
	d1 := SumBytes([]byte("one"))
	d2 := SumBytes([]byte("two"))
	input := "a.png: " + d1.String() + "\n" +
		"\n" +
		"   \n" +
		"this line is corrupt\n" +
		"b.jpg: " + d2.String() + "\n"

	entries, malformed, err := readEntries(strings.NewReader(input))
	if err != nil {
		t.Fatalf("readEntries() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if malformed != 1 {
		t.Errorf("malformed = %d, want 1", malformed)
	}
	if entries[0].Digest != d1 || entries[1].Digest != d2 {
		t.Errorf("entries = %+v", entries)
	}
}

func TestValidName(t *testing.T) {
	tests := map[string]bool{
		"a.png":          true,
		"with space.png": true,
		"":               false,
		"bad: name.png":  false,
		"line\nbreak":    false,
		" leading.png":   false,
	}
	for name, want := range tests {
		if got := validName(name); got != want {
			t.Errorf("validName(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestParseDigest(t *testing.T) {
	d := SumBytes([]byte("abc"))
	got, err := ParseDigest(d.String())
	if err != nil {
		t.Fatalf("ParseDigest() error = %v", err)
	}
	if got != d {
		t.Errorf("ParseDigest() = %s, want %s", got, d)
	}
	// MD5("abc") is a well known vector.
	if d.String() != "900150983cd24fb0d6963f7d28e17f72" {
		t.Errorf("SumBytes(abc) = %s", d)
	}
	if _, err := ParseDigest("xyz"); err == nil {
		t.Error("ParseDigest() expected error for short input")
	}
}
