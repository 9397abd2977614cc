// Package viewers periodically polls per-platform viewer counts and
// publishes the aggregate. A failed fetch counts as zero for that cycle;
// there is no protocol state to recover.
package viewers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/pacdouglas/live-xumbrega/internal/event"
	"github.com/pacdouglas/live-xumbrega/internal/kick"
)

const defaultInterval = 60 * time.Second

// Hub is the event sink the poller publishes into.
type Hub interface {
	Publish(event.Event)
}

// Poller fetches viewer counts for the configured channels.
type Poller struct {
	kickChannel string
	ytVideoID   string
	interval    time.Duration
	hub         Hub

	kickAPIBase   string
	innertubeBase string
	httpc         *http.Client
}

// New creates a poller. videoID may be empty to skip the YouTube count.
func New(kickChannel, ytVideoID string, interval time.Duration, hub Hub) *Poller {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Poller{
		kickChannel:   kickChannel,
		ytVideoID:     ytVideoID,
		interval:      interval,
		hub:           hub,
		kickAPIBase:   kick.DefaultAPIBase,
		innertubeBase: "https://www.youtube.com/youtubei/v1",
		httpc:         &http.Client{Timeout: 10 * time.Second},
	}
}

// Run polls until ctx is cancelled. The first poll happens one interval
// after start, matching the cadence viewers expect from the overlay.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.pollOnce(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	var kiCount, ytCount int

	if p.kickChannel != "" {
		channel, err := kick.FetchChannel(ctx, p.httpc, p.kickAPIBase, p.kickChannel)
		if err != nil {
			log.Printf("[viewers/ki] %v", err)
		} else {
			kiCount = channel.ViewerCount
		}
	}

	if p.ytVideoID != "" {
		count, err := p.fetchYouTubeCount(ctx)
		if err != nil {
			log.Printf("[viewers/yt] %v", err)
		} else {
			ytCount = count
		}
	}

	total := kiCount + ytCount
	log.Printf("[viewers] ki=%d yt=%d total=%d", kiCount, ytCount, total)
	p.hub.Publish(event.Viewers{Kick: kiCount, YouTube: ytCount, Total: total})
}

var nonDigits = regexp.MustCompile(`[^\d]`)

// fetchYouTubeCount asks the innertube updated_metadata endpoint for the
// live view count. The count arrives as display text ("1,234 watching"),
// so digits are extracted.
func (p *Poller) fetchYouTubeCount(ctx context.Context) (int, error) {
	payload := map[string]any{
		"context": map[string]any{
			"client": map[string]any{"clientName": "WEB", "clientVersion": "2.20240101.00.00"},
		},
		"videoId": p.ytVideoID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}

	url := p.innertubeBase + "/updated_metadata"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpc.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("read response: %w", err)
	}

	vc := gjson.GetBytes(data, "viewCount")
	var text string
	if vc.IsObject() {
		vr := vc.Get("videoViewCountRenderer")
		text = vr.Get("viewCount.simpleText").String()
		if text == "" {
			text = vr.Get("shortViewCount.simpleText").String()
		}
	} else {
		text = vc.String()
	}

	digits := nonDigits.ReplaceAllString(text, "")
	if digits == "" {
		return 0, nil
	}
	count, err := strconv.Atoi(digits)
	if err != nil {
		return 0, fmt.Errorf("parse count %q: %w", text, err)
	}
	return count, nil
}
