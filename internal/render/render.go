// Package render turns raw platform chat text into sanitized display HTML.
// Every function escapes user input; the only markup ever introduced is the
// <img> construction for recognized emotes and emojis. Malformed markup
// degrades to plain escaped text, never to an error.
package render

import (
	"html"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Escape HTML-escapes user-supplied text, including quotes so the result is
// safe inside attribute values.
func Escape(s string) string {
	return html.EscapeString(s)
}

// emoteSpan is one emote occurrence inside a Twitch message. Offsets are
// rune indices; end is exclusive.
type emoteSpan struct {
	start, end int
	id         string
}

// TwitchEmotes renders a Twitch message using the IRCv3 emotes tag, which
// has the form "id:start-end,start-end/id:start-end". Ranges are inclusive
// rune offsets into the message and never overlap. An empty or unparseable
// tag yields the fully escaped message.
func TwitchEmotes(text, emotesTag string) string {
	if emotesTag == "" {
		return Escape(text)
	}

	var spans []emoteSpan
	for _, part := range strings.Split(emotesTag, "/") {
		id, positions, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		for _, pos := range strings.Split(positions, ",") {
			from, to, ok := strings.Cut(pos, "-")
			if !ok {
				continue
			}
			start, err := strconv.Atoi(from)
			if err != nil {
				continue
			}
			end, err := strconv.Atoi(to)
			if err != nil {
				continue
			}
			spans = append(spans, emoteSpan{start: start, end: end + 1, id: id})
		}
	}
	if len(spans) == 0 {
		return Escape(text)
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	// Twitch offsets count code points, not bytes.
	runes := []rune(text)
	var b strings.Builder
	last := 0
	for _, sp := range spans {
		if sp.start < last || sp.end <= sp.start || sp.end > len(runes) {
			continue
		}
		b.WriteString(Escape(string(runes[last:sp.start])))
		alt := Escape(string(runes[sp.start:sp.end]))
		b.WriteString(`<img src="https://static-cdn.jtvnw.net/emoticons/v2/` + sp.id + `/default/dark/1.0" alt="` + alt + `" title="` + alt + `">`)
		last = sp.end
	}
	b.WriteString(Escape(string(runes[last:])))
	return b.String()
}

var kickEmotePattern = regexp.MustCompile(`\[emote:(\d+):([^\]]+)\]`)

// KickEmotes renders a Kick message, replacing every well-formed
// [emote:<id>:<name>] token with an <img> and escaping everything else.
// Malformed tokens (e.g. an unterminated bracket) stay literal text.
func KickEmotes(text string) string {
	matches := kickEmotePattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return Escape(text)
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(Escape(text[last:m[0]]))
		id := text[m[2]:m[3]]
		name := Escape(text[m[4]:m[5]])
		b.WriteString(`<img src="https://files.kick.com/emotes/` + id + `/fullsize" alt=":` + name + `:" title=":` + name + `:" style="height:1.4em;vertical-align:middle;margin:0 2px;">`)
		last = m[1]
	}
	b.WriteString(Escape(text[last:]))
	return b.String()
}

// Run is one segment of a YouTube message: either plain text or an emoji
// carrying an image URL and a shortcut name.
type Run struct {
	Text     string
	Emoji    bool
	ImageURL string
	Name     string
}

// YouTubeRuns renders an ordered sequence of message runs. Emoji runs
// without an image fall back to their escaped shortcut name; emoji runs
// with neither emit nothing.
func YouTubeRuns(runs []Run) string {
	var b strings.Builder
	for _, r := range runs {
		switch {
		case !r.Emoji:
			b.WriteString(Escape(r.Text))
		case r.ImageURL != "":
			name := Escape(r.Name)
			b.WriteString(`<img src="` + Escape(r.ImageURL) + `" alt="` + name + `" title="` + name + `" style="height:1.4em;vertical-align:middle;margin:0 2px;">`)
		case r.Name != "":
			b.WriteString(Escape(r.Name))
		}
	}
	return b.String()
}
