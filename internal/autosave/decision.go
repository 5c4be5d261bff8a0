package autosave

import "fmt"

// Decision is the final verdict for one clipboard event.
type Decision int

const (
	Ignored Decision = iota
	Saved
	SkippedDuplicate
	SkippedTooLarge
	Failed
)

func (d Decision) String() string {
	switch d {
	case Ignored:
		return "ignored"
	case Saved:
		return "saved"
	case SkippedDuplicate:
		return "skipped-duplicate"
	case SkippedTooLarge:
		return "skipped-too-large"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Outcome reports what the pipeline did with one snapshot.
type Outcome struct {
	Decision Decision
	Source   string // what was ingested: a URL, a path, or "clipboard image"
	Path     string // destination path, set when Saved
	Digest   string
	Size     int64
	Err      error // reason for Ignored, Skipped* and Failed; set on Saved when the log append failed
}
