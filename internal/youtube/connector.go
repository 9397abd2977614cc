// Package youtube ingests a YouTube live stream's chat by polling the
// innertube live_chat endpoint with continuation tokens, and publishes
// canonical events to the hub. Unlike the other connectors it terminates
// permanently when the live stream ends.
package youtube

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/pacdouglas/live-xumbrega/internal/event"
	"github.com/pacdouglas/live-xumbrega/internal/render"
)

const (
	defaultWatchBase     = "https://www.youtube.com"
	defaultInnertubeBase = "https://www.youtube.com/youtubei/v1"

	clientVersion = "2.20240101.00.00"

	bootstrapRetryDelay = 10 * time.Second
	transientRetryDelay = 8 * time.Second
	maxPollInterval     = 2 * time.Second
	backoffStart        = 10 * time.Second
	backoffCap          = 60 * time.Second
)

// userAgent plus the consent cookie get the live_chat popout page served
// without an interstitial.
const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
const consentCookie = "CONSENT=YES+1; SOCS=CAESEwgDEgk1NzM4MTkzMjYaAmVuIAE="

// Hub is the event sink the connector publishes into.
type Hub interface {
	Publish(event.Event)
	SetStatus(platform string, on bool)
}

// Connector polls one live video's chat.
type Connector struct {
	videoID string
	hub     Hub

	watchBase     string
	innertubeBase string
	httpc         *http.Client
}

// New creates a new YouTube connector for the given live video ID.
func New(videoID string, hub Hub) *Connector {
	return &Connector{
		videoID:       videoID,
		hub:           hub,
		watchBase:     defaultWatchBase,
		innertubeBase: defaultInnertubeBase,
		httpc:         &http.Client{Timeout: 15 * time.Second},
	}
}

// Run bootstraps a continuation token and polls until the stream ends or
// ctx is cancelled. A "not found / ended" signature stops the connector
// for good; everything else is retried.
func (c *Connector) Run(ctx context.Context) error {
	var continuation string
	for continuation == "" {
		tok, err := c.fetchContinuation(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("[yt] connect error: %v", err)
			select {
			case <-time.After(bootstrapRetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		continuation = tok
	}

	log.Printf("[yt] connected — video_id=%s", c.videoID)
	c.hub.SetStatus(event.PlatformYouTube, true)
	c.hub.Publish(event.Notice{Text: "🔴 YouTube conectado!"})

	// The first successful poll returns the whole pre-existing backlog;
	// it is discarded so joining mid-stream does not replay it. This is a
	// heuristic: the action right at the boundary may be duplicated or
	// missed.
	first := true
	var backoff time.Duration

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		result, err := c.poll(ctx, continuation)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if isEnded(err.Error()) {
				log.Printf("[yt] live ended: %v", err)
				c.hub.SetStatus(event.PlatformYouTube, false)
				c.hub.Publish(event.Notice{Text: "🔴 YouTube: live encerrada."})
				return nil
			}
			if result != nil && result.rateLimited {
				backoff = nextBackoff(backoff)
				log.Printf("[yt] 429 rate limit — backoff %s", backoff)
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return ctx.Err()
				}
				continue
			}
			log.Printf("[yt] poll error: %v", err)
			select {
			case <-time.After(transientRetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		if result.continuation != "" {
			continuation = result.continuation
		}
		if !first {
			for _, action := range result.actions {
				c.handleAction(action)
			}
		}
		first = false
		backoff = 0

		interval := result.pollInterval
		if interval > maxPollInterval {
			interval = maxPollInterval
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// fetchContinuation loads the live_chat popout page and extracts the
// initial continuation token.
func (c *Connector) fetchContinuation(ctx context.Context) (string, error) {
	url := fmt.Sprintf("%s/live_chat?v=%s&is_popout=1", c.watchBase, c.videoID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Cookie", consentCookie)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch live_chat page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read live_chat page: %w", err)
	}

	tok := extractContinuation(string(body))
	if tok == "" {
		return "", fmt.Errorf("continuation token not found")
	}
	return tok, nil
}

// continuationPatterns are tried in priority order; the first match wins.
var continuationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`"reloadContinuationData"\s*:\s*\{\s*"continuation"\s*:\s*"([^"]{20,})"`),
	regexp.MustCompile(`"timedContinuationData"\s*:\s*\{[^}]{0,200}"continuation"\s*:\s*"([^"]{20,})"`),
	regexp.MustCompile(`"invalidationContinuationData"\s*:\s*\{[^}]{0,200}"continuation"\s*:\s*"([^"]{20,})"`),
	regexp.MustCompile(`"continuation"\s*:\s*"([^"]{20,})"[^}]{0,100}"clickTrackingParams"`),
}

// extractContinuation pulls the initial continuation token out of the
// live_chat HTML document.
func extractContinuation(html string) string {
	for _, pat := range continuationPatterns {
		if m := pat.FindStringSubmatch(html); m != nil {
			return m[1]
		}
	}
	return ""
}

// pollResult carries one successful (or rate-limited) poll's outcome.
type pollResult struct {
	continuation string
	pollInterval time.Duration
	actions      []gjson.Result
	rateLimited  bool
}

// poll POSTs the continuation token to the innertube live_chat endpoint.
// A 429 returns a result with rateLimited set alongside the error so the
// caller applies the distinct backoff path.
func (c *Connector) poll(ctx context.Context, continuation string) (*pollResult, error) {
	payload := map[string]any{
		"context": map[string]any{
			"client": map[string]any{
				"clientName":    "WEB",
				"clientVersion": clientVersion,
				"hl":            "en",
			},
		},
		"continuation": continuation,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal poll request: %w", err)
	}

	url := c.innertubeBase + "/live_chat/get_live_chat"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return &pollResult{rateLimited: true}, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read poll response: %w", err)
	}

	return parsePollResponse(data)
}

// parsePollResponse extracts the next continuation token, the suggested
// poll interval and the action list from a get_live_chat response.
func parsePollResponse(data []byte) (*pollResult, error) {
	lcc := gjson.GetBytes(data, "continuationContents.liveChatContinuation")
	if !lcc.Exists() {
		return nil, fmt.Errorf("liveChatContinuation missing")
	}

	nc := lcc.Get("continuations.0")
	result := &pollResult{pollInterval: 5 * time.Second}

	for _, path := range []string{
		"timedContinuationData.continuation",
		"invalidationContinuationData.continuation",
		"reloadContinuationData.continuation",
	} {
		if tok := nc.Get(path); tok.Exists() {
			result.continuation = tok.String()
			break
		}
	}

	for _, path := range []string{
		"timedContinuationData.timeoutMs",
		"invalidationContinuationData.timeoutMs",
	} {
		if ms := nc.Get(path); ms.Exists() {
			result.pollInterval = time.Duration(ms.Int()) * time.Millisecond
			break
		}
	}

	result.actions = lcc.Get("actions").Array()
	return result, nil
}

// handleAction publishes zero or more canonical events for one chat
// action. Recognized item kinds: plain text message, paid message (notice
// plus highlighted chat line) and membership (notice only, never
// persisted as chat).
func (c *Connector) handleAction(action gjson.Result) {
	item := action.Get("addChatItemAction.item")
	if !item.Exists() {
		return
	}

	if msg := item.Get("liveChatTextMessageRenderer"); msg.Exists() {
		user := authorName(msg, "Anônimo")
		html := render.YouTubeRuns(messageRuns(msg))
		if strings.TrimSpace(html) != "" {
			c.hub.Publish(event.Chat{
				Platform: event.PlatformYouTube,
				User:     user,
				Color:    "",
				HTML:     html,
			})
		}
	}

	if paid := item.Get("liveChatPaidMessageRenderer"); paid.Exists() {
		user := authorName(paid, "Anônimo")
		amount := paid.Get("purchaseAmountText.simpleText").String()
		c.hub.Publish(event.Notice{
			Text: fmt.Sprintf("🔴 Super Chat de %s: %s", render.Escape(user), render.Escape(amount)),
		})
		html := render.YouTubeRuns(messageRuns(paid))
		if strings.TrimSpace(html) != "" {
			c.hub.Publish(event.Chat{
				Platform: event.PlatformYouTube,
				User:     user,
				Color:    "#ffcc44",
				HTML:     html,
			})
		}
	}

	if mem := item.Get("liveChatMembershipItemRenderer"); mem.Exists() {
		user := authorName(mem, "Alguém")
		c.hub.Publish(event.Notice{Text: fmt.Sprintf("🔴 %s se tornou membro!", render.Escape(user))})
	}
}

func authorName(renderer gjson.Result, fallback string) string {
	if name := renderer.Get("authorName.simpleText").String(); name != "" {
		return name
	}
	return fallback
}

// messageRuns converts a renderer's message.runs list into the renderer
// package's run sequence.
func messageRuns(renderer gjson.Result) []render.Run {
	var runs []render.Run
	for _, raw := range renderer.Get("message.runs").Array() {
		if text := raw.Get("text"); text.Exists() && text.Type == gjson.String {
			runs = append(runs, render.Run{Text: text.String()})
			continue
		}
		if emoji := raw.Get("emoji"); emoji.Exists() {
			name := emoji.Get("shortcuts.0").String()
			if name == "" {
				name = emoji.Get("emojiId").String()
			}
			runs = append(runs, render.Run{
				Emoji:    true,
				ImageURL: emoji.Get("image.thumbnails.0.url").String(),
				Name:     strings.ReplaceAll(name, ":", ""),
			})
		}
	}
	return runs
}

// nextBackoff advances the rate-limit backoff: 10s on the first hit, then
// doubling up to the 60s cap.
func nextBackoff(cur time.Duration) time.Duration {
	if cur == 0 {
		return backoffStart
	}
	cur *= 2
	if cur > backoffCap {
		cur = backoffCap
	}
	return cur
}

var endedPattern = regexp.MustCompile(`(?i)404|ended|not.*found`)

// isEnded reports whether an error message carries the "broadcast is
// gone" signature that permanently stops the connector.
func isEnded(msg string) bool {
	return endedPattern.MatchString(msg)
}
