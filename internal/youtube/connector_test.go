package youtube

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"github.com/pacdouglas/live-xumbrega/internal/event"
)

type fakeHub struct {
	events   []event.Event
	statuses []event.Status
}

func (f *fakeHub) Publish(ev event.Event) { f.events = append(f.events, ev) }
func (f *fakeHub) SetStatus(platform string, on bool) {
	f.statuses = append(f.statuses, event.Status{Platform: platform, On: on})
}

const tokReload = "RELOAD_TOKEN_AAAAAAAAAAAAAAAAAAAA"
const tokTimed = "TIMED_TOKEN_BBBBBBBBBBBBBBBBBBBBB"
const tokInvalidation = "INVAL_TOKEN_CCCCCCCCCCCCCCCCCCCCC"
const tokGeneric = "GENERIC_TOKEN_DDDDDDDDDDDDDDDDDDD"

func fixtureReload() string {
	return `"reloadContinuationData":{"continuation":"` + tokReload + `"}`
}
func fixtureTimed() string {
	return `"timedContinuationData":{"timeoutMs":5000,"continuation":"` + tokTimed + `"}`
}
func fixtureInvalidation() string {
	return `"invalidationContinuationData":{"timeoutMs":10000,"continuation":"` + tokInvalidation + `"}`
}
func fixtureGeneric() string {
	return `"continuation":"` + tokGeneric + `","clickTrackingParams":"xyz"`
}

func TestExtractContinuationPriority(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{"reload only", fixtureReload(), tokReload},
		{"timed only", fixtureTimed(), tokTimed},
		{"invalidation only", fixtureInvalidation(), tokInvalidation},
		{"generic only", fixtureGeneric(), tokGeneric},
		// Overlapping fixtures: reload wins over everything.
		{"all present", fixtureGeneric() + fixtureInvalidation() + fixtureTimed() + fixtureReload(), tokReload},
		{"timed beats invalidation", fixtureInvalidation() + fixtureTimed(), tokTimed},
		{"invalidation beats generic", fixtureGeneric() + fixtureInvalidation(), tokInvalidation},
		{"nothing", `<html>no tokens here</html>`, ""},
		// Token shorter than 20 chars must not match.
		{"short token", `"reloadContinuationData":{"continuation":"short"}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractContinuation(tt.html); got != tt.want {
				t.Errorf("extractContinuation() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNextBackoffSequence(t *testing.T) {
	want := []time.Duration{
		10 * time.Second,
		20 * time.Second,
		40 * time.Second,
		60 * time.Second,
		60 * time.Second,
		60 * time.Second,
	}

	var cur time.Duration
	for i, w := range want {
		cur = nextBackoff(cur)
		if cur != w {
			t.Errorf("backoff step %d = %s, want %s", i, cur, w)
		}
	}

	// A success resets the counter; the next 429 starts over at 10s.
	cur = 0
	if got := nextBackoff(cur); got != 10*time.Second {
		t.Errorf("backoff after reset = %s, want 10s", got)
	}
}

func TestIsEnded(t *testing.T) {
	for _, msg := range []string{"HTTP 404", "stream ended", "video Not Found", "NOT found"} {
		if !isEnded(msg) {
			t.Errorf("isEnded(%q) = false, want true", msg)
		}
	}
	for _, msg := range []string{"HTTP 500", "connection refused", "liveChatContinuation missing", "HTTP 429"} {
		if isEnded(msg) {
			t.Errorf("isEnded(%q) = true, want false", msg)
		}
	}
}

func TestParsePollResponse(t *testing.T) {
	body := `{
		"continuationContents": {
			"liveChatContinuation": {
				"continuations": [
					{"timedContinuationData": {"timeoutMs": 3000, "continuation": "` + tokTimed + `"}}
				],
				"actions": [{"addChatItemAction": {"item": {}}}]
			}
		}
	}`

	result, err := parsePollResponse([]byte(body))
	if err != nil {
		t.Fatal(err)
	}
	if result.continuation != tokTimed {
		t.Errorf("continuation = %q, want %q", result.continuation, tokTimed)
	}
	if result.pollInterval != 3*time.Second {
		t.Errorf("pollInterval = %s, want 3s", result.pollInterval)
	}
	if len(result.actions) != 1 {
		t.Errorf("actions = %d, want 1", len(result.actions))
	}
}

func TestParsePollResponseDefaults(t *testing.T) {
	// No continuations entry: token stays empty, interval defaults to 5s.
	body := `{"continuationContents":{"liveChatContinuation":{}}}`
	result, err := parsePollResponse([]byte(body))
	if err != nil {
		t.Fatal(err)
	}
	if result.continuation != "" {
		t.Errorf("continuation = %q, want empty", result.continuation)
	}
	if result.pollInterval != 5*time.Second {
		t.Errorf("pollInterval = %s, want 5s default", result.pollInterval)
	}
}

func TestParsePollResponseMissingShape(t *testing.T) {
	if _, err := parsePollResponse([]byte(`{"kind":"something else"}`)); err == nil {
		t.Fatal("expected error for missing liveChatContinuation")
	}
}

func actionFixture(item string) gjson.Result {
	return gjson.Parse(`{"addChatItemAction":{"item":` + item + `}}`)
}

func TestHandleActionTextMessage(t *testing.T) {
	fake := &fakeHub{}
	c := New("vid", fake)

	c.handleAction(actionFixture(`{
		"liveChatTextMessageRenderer": {
			"authorName": {"simpleText": "Maria"},
			"message": {"runs": [{"text": "olá mundo"}]}
		}
	}`))

	if len(fake.events) != 1 {
		t.Fatalf("published %d events, want 1", len(fake.events))
	}
	chat, ok := fake.events[0].(event.Chat)
	if !ok {
		t.Fatalf("event type %T, want Chat", fake.events[0])
	}
	if chat.Platform != event.PlatformYouTube || chat.User != "Maria" || chat.Color != "" {
		t.Errorf("chat = %+v", chat)
	}
	if chat.HTML != "olá mundo" {
		t.Errorf("html = %q", chat.HTML)
	}
}

func TestHandleActionPaidMessage(t *testing.T) {
	fake := &fakeHub{}
	c := New("vid", fake)

	c.handleAction(actionFixture(`{
		"liveChatPaidMessageRenderer": {
			"authorName": {"simpleText": "Rico"},
			"purchaseAmountText": {"simpleText": "R$ 20,00"},
			"message": {"runs": [{"text": "toma"}]}
		}
	}`))

	if len(fake.events) != 2 {
		t.Fatalf("published %d events, want notice + chat", len(fake.events))
	}
	notice, ok := fake.events[0].(event.Notice)
	if !ok {
		t.Fatalf("first event type %T, want Notice", fake.events[0])
	}
	if !strings.Contains(notice.Text, "Rico") || !strings.Contains(notice.Text, "R$ 20,00") {
		t.Errorf("notice = %q", notice.Text)
	}
	chat, ok := fake.events[1].(event.Chat)
	if !ok {
		t.Fatalf("second event type %T, want Chat", fake.events[1])
	}
	if chat.Color != "#ffcc44" {
		t.Errorf("paid chat color = %q, want #ffcc44", chat.Color)
	}
}

func TestHandleActionPaidMessageWithoutBody(t *testing.T) {
	fake := &fakeHub{}
	c := New("vid", fake)

	c.handleAction(actionFixture(`{
		"liveChatPaidMessageRenderer": {
			"authorName": {"simpleText": "Rico"},
			"purchaseAmountText": {"simpleText": "$5.00"}
		}
	}`))

	// Notice only; no empty chat line.
	if len(fake.events) != 1 {
		t.Fatalf("published %d events, want 1", len(fake.events))
	}
	if _, ok := fake.events[0].(event.Notice); !ok {
		t.Fatalf("event type %T, want Notice", fake.events[0])
	}
}

func TestHandleActionMembership(t *testing.T) {
	fake := &fakeHub{}
	c := New("vid", fake)

	c.handleAction(actionFixture(`{
		"liveChatMembershipItemRenderer": {
			"authorName": {"simpleText": "Fiel"}
		}
	}`))

	if len(fake.events) != 1 {
		t.Fatalf("published %d events, want 1", len(fake.events))
	}
	notice, ok := fake.events[0].(event.Notice)
	if !ok {
		t.Fatalf("event type %T, want Notice", fake.events[0])
	}
	if !strings.Contains(notice.Text, "Fiel") || !strings.Contains(notice.Text, "membro") {
		t.Errorf("notice = %q", notice.Text)
	}
}

func TestHandleActionUnknownKind(t *testing.T) {
	fake := &fakeHub{}
	c := New("vid", fake)

	c.handleAction(actionFixture(`{"liveChatPlaceholderItemRenderer": {}}`))
	c.handleAction(gjson.Parse(`{"markChatItemAsDeletedAction": {}}`))

	if len(fake.events) != 0 {
		t.Errorf("published %d events for unknown actions, want 0", len(fake.events))
	}
}

func pollBody(token, text string) string {
	return `{"continuationContents":{"liveChatContinuation":{
		"continuations":[{"timedContinuationData":{"timeoutMs":1,"continuation":"` + token + `"}}],
		"actions":[{"addChatItemAction":{"item":{"liveChatTextMessageRenderer":{
			"authorName":{"simpleText":"Zé"},
			"message":{"runs":[{"text":"` + text + `"}]}}}}}]}}}`
}

// Full connector lifecycle against a fake innertube: the first poll's
// backlog is dropped, the next one is published, and a 404 ends the
// connector with the farewell notice.
func TestRunDiscardsBacklogAndStopsWhenGone(t *testing.T) {
	var polls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/live_chat", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("v") != "vid123" {
			t.Errorf("live_chat video id = %q", r.URL.Query().Get("v"))
		}
		fmt.Fprint(w, `<html>"reloadContinuationData":{"continuation":"`+tokReload+`"}</html>`)
	})
	mux.HandleFunc("/live_chat/get_live_chat", func(w http.ResponseWriter, r *http.Request) {
		switch atomic.AddInt32(&polls, 1) {
		case 1:
			fmt.Fprint(w, pollBody(tokTimed, "mensagem antiga"))
		case 2:
			fmt.Fprint(w, pollBody(tokTimed, "ao vivo"))
		default:
			http.NotFound(w, r)
		}
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	fake := &fakeHub{}
	c := New("vid123", fake)
	c.watchBase = ts.URL
	c.innertubeBase = ts.URL

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run() = %v, want nil for an ended stream", err)
	}

	if len(fake.statuses) != 2 || !fake.statuses[0].On || fake.statuses[1].On {
		t.Errorf("statuses = %+v, want connect then disconnect", fake.statuses)
	}

	var chats []event.Chat
	var notices []event.Notice
	for _, ev := range fake.events {
		switch e := ev.(type) {
		case event.Chat:
			chats = append(chats, e)
		case event.Notice:
			notices = append(notices, e)
		}
	}

	if len(chats) != 1 || chats[0].HTML != "ao vivo" {
		t.Errorf("chats = %+v, want only the post-backlog message", chats)
	}
	for _, chat := range chats {
		if strings.Contains(chat.HTML, "mensagem antiga") {
			t.Errorf("backlog message leaked into the live feed: %+v", chat)
		}
	}

	if len(notices) != 2 {
		t.Fatalf("notices = %+v, want connect + ended", notices)
	}
	if !strings.Contains(notices[0].Text, "conectado") {
		t.Errorf("first notice = %q", notices[0].Text)
	}
	if !strings.Contains(notices[1].Text, "encerrada") {
		t.Errorf("final notice = %q", notices[1].Text)
	}
}

func TestHandleActionEmojiRuns(t *testing.T) {
	fake := &fakeHub{}
	c := New("vid", fake)

	c.handleAction(actionFixture(`{
		"liveChatTextMessageRenderer": {
			"authorName": {"simpleText": "Ze"},
			"message": {"runs": [
				{"text": "gg "},
				{"emoji": {
					"emojiId": "x",
					"shortcuts": [":fire:"],
					"image": {"thumbnails": [{"url": "https://img.example/fire.png"}]}
				}}
			]}
		}
	}`))

	if len(fake.events) != 1 {
		t.Fatalf("published %d events, want 1", len(fake.events))
	}
	chat := fake.events[0].(event.Chat)
	if !strings.Contains(chat.HTML, `<img src="https://img.example/fire.png"`) {
		t.Errorf("html = %q", chat.HTML)
	}
	if !strings.Contains(chat.HTML, `alt="fire"`) {
		t.Errorf("shortcut colons should be stripped from the name, got %q", chat.HTML)
	}
}
