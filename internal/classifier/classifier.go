package classifier

import "strings"

// Class is the device family derived from a session's user-agent string.
type Class string

const (
	StreamingServer Class = "streaming_server"
	STB             Class = "stb"
	TV              Class = "tv"
	Android         Class = "android"
	IOS             Class = "ios"
	Desktop         Class = "desktop"
	Other           Class = "other"
)

// rules are evaluated in order; the first substring hit wins. STB tokens are
// checked before TV platforms because many set-top boxes also advertise
// TV-ish tokens, and headless fetchers come first so relay servers never
// count as viewers.
var rules = []struct {
	class Class
	subs  []string
}{
	{StreamingServer, []string{"lavf", "ffmpeg", "gstreamer", "curl", "wget", "okhttp"}},
	{STB, []string{"stb", "mag", "aura", "dune", "infomir"}},
	{TV, []string{"smart-tv", "smarttv", "hbbtv", "webos", "tizen", "appletv"}},
	{Android, []string{"android"}},
	{IOS, []string{"iphone", "ipad", "ios", "cfnetwork", "darwin"}},
	{Desktop, []string{"windows", "macintosh", "linux", "x11"}},
}

// Classify maps a raw user-agent string to its device class. Matching is
// case-insensitive; an empty or unrecognized agent is Other.
func Classify(userAgent string) Class {
	if userAgent == "" {
		return Other
	}
	ua := strings.ToLower(userAgent)
	for _, r := range rules {
		for _, sub := range r.subs {
			if strings.Contains(ua, sub) {
				return r.class
			}
		}
	}
	return Other
}
