package checksum

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"clipsave/internal/fs"
)

// LogFileName is the name of the checksum log inside a target directory.
const LogFileName = "checksums.txt"

// separator splits a log line into file name and digest.
const separator = ": "

// Entry is one line of the checksum log.
type Entry struct {
	FileName string
	Digest   Digest
}

// formatLine renders e as "<fileName>: <hex>\n".
func formatLine(e Entry) string {
	return e.FileName + separator + e.Digest.String() + "\n"
}

// parseLine parses one log line. The digest is fixed-width, so the
// separator is taken as the one immediately preceding the last 32
// characters; for every name without ": " this is the same as splitting on
// the first occurrence.
func parseLine(line string) (Entry, bool) {
	line = strings.TrimRight(line, " \t\r\n")
	if len(line) < len(separator)+digestHexLen+1 {
		return Entry{}, false
	}

	hexStart := len(line) - digestHexLen
	sepStart := hexStart - len(separator)
	if line[sepStart:hexStart] != separator {
		return Entry{}, false
	}

	d, err := ParseDigest(line[hexStart:])
	if err != nil {
		return Entry{}, false
	}

	name := line[:sepStart]
	if strings.TrimSpace(name) == "" {
		return Entry{}, false
	}
	return Entry{FileName: name, Digest: d}, true
}

// readEntries parses every well-formed line of r. Blank lines are skipped
// silently; other unparseable lines are counted as malformed.
func readEntries(r io.Reader) (entries []Entry, malformed int, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		e, ok := parseLine(line)
		if !ok {
			malformed++
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return entries, malformed, fmt.Errorf("reading checksum log: %w", err)
	}
	return entries, malformed, nil
}

// writeEntries replaces the log at path with exactly entries.
// The new content is written to a temp file and renamed into place, so an
// interruption leaves either the old log or the new one.
func writeEntries(path string, entries []Entry) error {
	var buf bytes.Buffer
	for _, e := range entries {
		buf.WriteString(formatLine(e))
	}
	if _, err := fs.WriteFileAtomic(path, &buf, false); err != nil {
		return fmt.Errorf("replacing checksum log: %w", err)
	}
	return nil
}

// appendEntry appends a single line to the log at path, creating it if needed.
func appendEntry(path string, e Entry) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening checksum log: %w", err)
	}

	if _, err := f.WriteString(formatLine(e)); err != nil {
		f.Close()
		return fmt.Errorf("appending to checksum log: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing checksum log: %w", err)
	}
	return nil
}

// validName reports whether name can be stored in the log unambiguously.
func validName(name string) bool {
	return name != "" &&
		!strings.Contains(name, separator) &&
		!strings.ContainsAny(name, "\r\n") &&
		strings.TrimSpace(name) == name
}
