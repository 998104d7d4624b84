// Package classifier decides from a path alone whether a file is a transient
// artifact of a download in progress.
package classifier

import (
	"path/filepath"
	"strings"
)

// TemporarySuffixes contains the in-progress suffixes used by browsers,
// download managers and chat clients.
var TemporarySuffixes = []string{
	".tmp",
	".crdownload",
	".part",
	".download",
	".filepart",
	".idm",
	".idm.tmp",
	".idm.bak",
	".dwnl",
	".inprogress",
	".downloading",
	".temp",
	".partial",
	".resume",
	".unconfirmed",
	".opdownload",
	".!ut",
	".td",
}

// TemporaryPrefixes are filename prefixes written by download tools before rename.
var TemporaryPrefixes = []string{
	"downloading_",
	"temp_",
}

// TemporaryInfixes are substrings that mark a filename as in progress.
var TemporaryInfixes = []string{
	"_downloading",
}

// ChatClientPathIndicators are application-data folder names of known chat clients.
var ChatClientPathIndicators = []string{
	"telegram desktop",
	"tdata",
}

const chatClientMinNameLen = 10

var defaultClassifier = New()

// Classifier matches paths against the temporary-file rules.
type Classifier struct {
	suffixes []string
}

// New creates a classifier with the default suffix set plus any extra suffixes.
func New(extraSuffixes ...string) *Classifier {
	suffixes := make([]string, 0, len(TemporarySuffixes)+len(extraSuffixes))
	suffixes = append(suffixes, TemporarySuffixes...)
	for _, s := range extraSuffixes {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if !strings.HasPrefix(s, ".") {
			s = "." + s
		}
		suffixes = append(suffixes, s)
	}
	return &Classifier{suffixes: suffixes}
}

// IsTemporary reports whether path names a transient file that should be ignored.
func (c *Classifier) IsTemporary(path string) bool {
	name := filepath.Base(path)
	if name == "" || name == "." || name == string(filepath.Separator) {
		return false
	}

	// Hidden files are often used as scratch space.
	if strings.HasPrefix(name, ".") {
		return true
	}

	lower := strings.ToLower(name)
	for _, suffix := range c.suffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	for _, prefix := range TemporaryPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	for _, infix := range TemporaryInfixes {
		if strings.Contains(lower, infix) {
			return true
		}
	}
	return false
}

// IsTemporary checks path against the default rules.
func IsTemporary(path string) bool {
	return defaultClassifier.IsTemporary(path)
}

// LooksLikeChatClientFile reports whether path is probably written by a chat
// client that names files with long opaque ids before it starts writing them.
func LooksLikeChatClientFile(path string) bool {
	lower := strings.ToLower(filepath.ToSlash(path))
	for _, indicator := range ChatClientPathIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}

	name := filepath.Base(path)
	if len(name) < chatClientMinNameLen || strings.Contains(name, ".") {
		return false
	}
	return isAlphanumeric(name)
}

func isAlphanumeric(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
