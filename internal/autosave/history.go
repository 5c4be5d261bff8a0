package autosave

import (
	"fmt"
	"time"
)

// Category groups history entries by the feature that produced them.
type Category int

const (
	CategoryCopy Category = iota
	CategoryAutoSaveImage
)

func (c Category) String() string {
	switch c {
	case CategoryCopy:
		return "copy"
	case CategoryAutoSaveImage:
		return "autosave"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// ParseCategory is the inverse of Category.String.
func ParseCategory(s string) (Category, error) {
	switch s {
	case "copy":
		return CategoryCopy, nil
	case "autosave":
		return CategoryAutoSaveImage, nil
	default:
		return 0, fmt.Errorf("unknown history category %q", s)
	}
}

// Level is the severity of a history entry.
type Level int

const (
	LevelInfo Level = iota
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "info"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLevel is the inverse of Level.String.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "info":
		return LevelInfo, nil
	case "warning":
		return LevelWarning, nil
	case "error":
		return LevelError, nil
	default:
		return 0, fmt.Errorf("unknown history level %q", s)
	}
}

// Event is one persisted history entry.
type Event struct {
	ID       string
	Time     time.Time
	Category Category
	Level    Level
	Message  string
}

// History is the user-facing action log. LogAction must not block the
// caller; implementations queue or drop.
type History interface {
	LogAction(message string, category Category, level Level)
}

// NopHistory drops every entry.
type NopHistory struct{}

func (NopHistory) LogAction(string, Category, Level) {}
