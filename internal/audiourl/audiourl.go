// Package audiourl turns the audio reference returned by the generation
// service into a directly fetchable media file URL.
package audiourl

import "strings"

const (
	// ItemToken is the query fragment stripped from raw references.
	ItemToken = "audio/?item_id="
	// Extension is appended to produce the media file name.
	Extension = ".mp3"
)

// Resolve strips the first ItemToken from raw and appends Extension:
//
//	https://cdn/audio/?item_id=abc123 -> https://cdn/abc123.mp3
//
// A reference without the token that already ends in Extension is returned
// unchanged, so resolving twice is a no-op. Empty input yields empty output.
func Resolve(raw string) string {
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, ItemToken) && strings.HasSuffix(raw, Extension) {
		return raw
	}
	return strings.Replace(raw, ItemToken, "", 1) + Extension
}
