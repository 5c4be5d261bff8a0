package autosave

import (
	"net/url"
	"strings"

	"clipsave/internal/fs"
)

// Snapshot is the clipboard content captured at one change notification.
// Image holds encoded image bytes as placed on the clipboard.
type Snapshot struct {
	HasText  bool
	Text     string
	HasImage bool
	Image    []byte
}

// Kind tags a Classified value.
type Kind int

const (
	KindNone Kind = iota
	KindLocalFile
	KindRemoteURL
	KindInlineImage
)

func (k Kind) String() string {
	switch k {
	case KindLocalFile:
		return "local-file"
	case KindRemoteURL:
		return "remote-url"
	case KindInlineImage:
		return "inline-image"
	default:
		return "none"
	}
}

// Classified is what the pipeline should ingest for a snapshot.
// Only the fields matching Kind are set.
type Classified struct {
	Kind     Kind
	Path     string // KindLocalFile: absolute path
	URL      string // KindRemoteURL
	Fallback []byte // KindRemoteURL: clipboard image at classification time, may be nil
	Image    []byte // KindInlineImage
}

// Classify decides what a snapshot holds. First match wins:
// an http(s) URL, then an existing local image file, then inline image
// bytes. The result depends only on the snapshot and the filesystem.
func Classify(snap Snapshot) Classified {
	if snap.HasText {
		text := strings.TrimSpace(snap.Text)

		if u, ok := remoteURL(text); ok {
			c := Classified{Kind: KindRemoteURL, URL: u}
			if snap.HasImage && len(snap.Image) > 0 {
				c.Fallback = snap.Image
			}
			return c
		}

		if path, ok := localImage(text); ok {
			return Classified{Kind: KindLocalFile, Path: path}
		}
	}

	if snap.HasImage && len(snap.Image) > 0 {
		return Classified{Kind: KindInlineImage, Image: snap.Image}
	}
	return Classified{Kind: KindNone}
}

// remoteURL reports whether text is a single absolute http or https URL.
func remoteURL(text string) (string, bool) {
	if text == "" || strings.ContainsAny(text, " \t\r\n") {
		return "", false
	}
	u, err := url.Parse(text)
	if err != nil {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	if u.Host == "" {
		return "", false
	}
	return u.String(), true
}

// localImage reports whether text names an existing regular file with a
// recognised image header.
func localImage(text string) (string, bool) {
	if text == "" || strings.ContainsAny(text, "\r\n") {
		return "", false
	}
	path, _, err := fs.ResolveFile(fs.LocalPath(text))
	if err != nil {
		return "", false
	}
	if !fs.IsImageFile(path) {
		return "", false
	}
	return path, true
}
