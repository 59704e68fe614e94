package moderation

import (
	"strings"

	api "github.com/OvyFlash/telegram-bot-api"
)

// linkMarkers catch links the platform did not annotate, e.g. forwarded
// plain text or bare short-link domains.
var linkMarkers = []string{"http://", "https://", "t.me/"}

// HasLink reports whether a message carries a link, either as a structured
// url/text_link entity or as a marker substring in its text or caption.
// Pure and side-effect free: it runs before any network call so clean
// messages cost nothing.
func HasLink(msg *api.Message) bool {
	if msg == nil {
		return false
	}

	for _, entities := range [][]api.MessageEntity{msg.Entities, msg.CaptionEntities} {
		for _, entity := range entities {
			if entity.Type == "url" || entity.Type == "text_link" {
				return true
			}
		}
	}

	text := strings.ToLower(msg.Text)
	if text == "" {
		text = strings.ToLower(msg.Caption)
	}
	for _, marker := range linkMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
