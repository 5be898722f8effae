package firewall

import (
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/PuerkitoBio/purell"

	"groupguard/internal/domain"
)

var urlPattern = regexp.MustCompile(`(?i)https?://[^\s]+`)

// ExtractEvent normalizes an inbound message into an evaluable event. It
// returns nil when the message carries neither text nor a known media type
// (service messages, for instance).
func ExtractEvent(msg domain.InboundMessage, now time.Time) *domain.Event {
	if msg.Text != "" {
		ev := &domain.Event{
			Kind:       domain.EventText,
			MediaTypes: []string{},
			Timestamp:  now,
		}
		applyText(ev, msg.Text, msg.Entities)
		return ev
	}

	media := mediaTypes(msg.Media)
	if len(media) == 0 {
		return nil
	}
	ev := &domain.Event{
		Kind:       domain.EventMedia,
		MediaTypes: media,
		Domains:    []string{},
		Timestamp:  now,
	}
	if msg.Caption != "" {
		applyText(ev, msg.Caption, msg.CaptionEntities)
	}
	return ev
}

func applyText(ev *domain.Event, text string, entities []domain.MessageEntity) {
	ev.Text = text
	ev.TextLower = strings.ToLower(text)
	ev.MessageLength = textLength(text)
	ev.Domains = extractDomains(text, entities)
}

// textLength counts UTF-16 code units, which is how Telegram measures text.
func textLength(s string) int {
	return len(utf16.Encode([]rune(s)))
}

func mediaTypes(m domain.MediaFlags) []string {
	var out []string
	if m.Photo {
		out = append(out, "photo")
	}
	if m.Video {
		out = append(out, "video")
	}
	if m.Document {
		out = append(out, "document")
	}
	if m.Audio {
		out = append(out, "audio")
	}
	if m.Voice {
		out = append(out, "voice")
	}
	if m.Animation {
		out = append(out, "animation")
	}
	if m.VideoNote {
		out = append(out, "video_note")
	}
	if m.Sticker {
		out = append(out, "sticker")
	}
	return out
}

func extractDomains(text string, entities []domain.MessageEntity) []string {
	candidates := urlPattern.FindAllString(text, -1)
	for _, e := range entities {
		if e.Type == "text_link" && e.URL != "" {
			candidates = append(candidates, e.URL)
		}
	}

	seen := make(map[string]struct{}, len(candidates))
	domains := make([]string, 0, len(candidates))
	for _, raw := range candidates {
		host := hostOf(raw)
		if host == "" {
			continue
		}
		if _, ok := seen[host]; ok {
			continue
		}
		seen[host] = struct{}{}
		domains = append(domains, host)
	}
	return domains
}

// hostOf returns the lowercased hostname of raw, or "" if raw is not a URL.
func hostOf(raw string) string {
	clean, err := purell.NormalizeURLString(raw, purell.FlagsSafe)
	if err != nil {
		return ""
	}
	u, err := url.Parse(clean)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
