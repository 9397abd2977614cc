package event

import "encoding/json"

// Platform identifiers as they appear on the wire. The overlay frontends
// key their styling off these short codes, so they are part of the wire
// format and must not change.
const (
	PlatformTwitch  = "tw"
	PlatformKick    = "ki"
	PlatformYouTube = "yt"
)

// Platforms lists every platform in the order status snapshots are sent.
var Platforms = []string{PlatformTwitch, PlatformKick, PlatformYouTube}

// Event is the canonical shape every adapter produces and the hub fans out.
// It is a closed set: Chat, Notice, Status and Viewers.
type Event interface {
	event()
}

// Chat is one rendered, display-ready chat line. HTML is always renderer
// output: escaped user text plus whitelisted <img> emote substitutions,
// never raw user-supplied markup.
type Chat struct {
	Platform string `json:"p"`
	User     string `json:"user"`
	Color    string `json:"color"`
	HTML     string `json:"html"`
}

func (Chat) event() {}

// Notice is a system announcement (connects, subs, raids, memberships).
type Notice struct {
	Text string
}

func (Notice) event() {}

func (n Notice) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		P    string `json:"p"`
		Text string `json:"text"`
	}{"sys", n.Text})
}

// Status is a connectivity transition for one platform.
type Status struct {
	Platform string
	On       bool
}

func (Status) event() {}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		P        string `json:"p"`
		Platform string `json:"platform"`
		On       bool   `json:"on"`
	}{"status", s.Platform, s.On})
}

// Viewers is the periodic aggregate viewer count.
type Viewers struct {
	Twitch  int
	Kick    int
	YouTube int
	Total   int
}

func (Viewers) event() {}

func (v Viewers) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		P       string `json:"p"`
		Twitch  int    `json:"tw"`
		YouTube int    `json:"yt"`
		Kick    int    `json:"ki"`
		Total   int    `json:"total"`
	}{"viewers", v.Twitch, v.YouTube, v.Kick, v.Total})
}
