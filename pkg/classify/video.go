package classify

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

var urlPattern = regexp.MustCompile(`https?://[^\s<>"']+`)

var videoExtensions = map[string]string{
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".webm": "video/webm",
}

// FindVideoURL returns the first video link in text and its MIME type.
// YouTube, Vimeo and direct .mp4/.mov/.webm links are recognized.
func FindVideoURL(text string) (link, mimeType string, ok bool) {
	for _, raw := range urlPattern.FindAllString(text, -1) {
		raw = strings.TrimRight(raw, ".,;:!?)]}")
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			continue
		}
		host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
		host = strings.TrimPrefix(host, "m.")
		switch {
		case host == "youtu.be" && len(u.Path) > 1:
			return raw, "video/*", true
		case host == "youtube.com" &&
			(u.Path == "/watch" && u.Query().Get("v") != "" || strings.HasPrefix(u.Path, "/shorts/")):
			return raw, "video/*", true
		case host == "vimeo.com" || host == "player.vimeo.com":
			if len(u.Path) > 1 {
				return raw, "video/*", true
			}
		}
		if mt, ok := videoExtensions[strings.ToLower(path.Ext(u.Path))]; ok {
			return raw, mt, true
		}
	}
	return "", "", false
}
