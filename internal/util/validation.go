package util

import (
	"path/filepath"
	"strings"
	"unicode/utf8"
)

const MaxMessageLength = 4000

// ValidMessageContent reports whether content may be stored as a message
// body. Empty content is allowed when files are attached.
func ValidMessageContent(content string, hasAttachments bool) bool {
	if utf8.RuneCountInString(content) > MaxMessageLength {
		return false
	}
	if strings.TrimSpace(content) == "" {
		return hasAttachments
	}
	return true
}

// SafeExtension returns the lower-cased extension of name, limited to a
// short alphanumeric suffix.
func SafeExtension(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if len(ext) < 2 || len(ext) > 10 {
		return ""
	}
	for _, r := range ext[1:] {
		if !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') {
			return ""
		}
	}
	return ext
}
