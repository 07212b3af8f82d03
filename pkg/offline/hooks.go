package offline

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// MessageType names a client message
type MessageType string

const (
	MessageSkipWaiting MessageType = "SKIP_WAITING"
	MessageGetVersion  MessageType = "GET_VERSION"
	MessageCacheUpdate MessageType = "CACHE_UPDATE"
)

// Message is sent by a page to the worker
type Message struct {
	Type MessageType `json:"type"`
	URLs []string    `json:"urls,omitempty"`
}

// VersionReply answers GET_VERSION
type VersionReply struct {
	Version string `json:"version"`
}

// CacheUpdateReply answers CACHE_UPDATE
type CacheUpdateReply struct {
	Updated int `json:"updated"`
}

const (
	DefaultNotificationTitle = "Mission Control"
	DefaultNotificationBody  = "New update from Mission Control"
	notificationIcon         = "/favicon.png"
)

// NotificationAction is a button on a notification
type NotificationAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon"`
}

// Notification is what a push displays
type Notification struct {
	Title   string               `json:"title"`
	Body    string               `json:"body"`
	Icon    string               `json:"icon"`
	Badge   string               `json:"badge"`
	Vibrate []int                `json:"vibrate"`
	Data    map[string]any       `json:"data"`
	Actions []NotificationAction `json:"actions"`
}

// NotificationHandler displays a notification
type NotificationHandler func(Notification)

// BuildNotification turns a push payload into a notification.
// A JSON payload may set title and body; anything else is the body text.
func BuildNotification(payload []byte, now time.Time) Notification {
	n := Notification{
		Title:   DefaultNotificationTitle,
		Body:    DefaultNotificationBody,
		Icon:    notificationIcon,
		Badge:   notificationIcon,
		Vibrate: []int{100, 50, 100},
		Data:    map[string]any{"dateOfArrival": now.UnixMilli()},
		Actions: []NotificationAction{
			{Action: "open", Title: "Open Mission Control", Icon: notificationIcon},
			{Action: "close", Title: "Close", Icon: notificationIcon},
		},
	}

	text := strings.TrimSpace(string(payload))
	if text == "" {
		return n
	}

	var structured struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	}
	if json.Unmarshal(payload, &structured) == nil && (structured.Title != "" || structured.Body != "") {
		if structured.Title != "" {
			n.Title = structured.Title
		}
		if structured.Body != "" {
			n.Body = structured.Body
		}
		return n
	}

	n.Body = text
	return n
}

// QueuedRequest is a non-GET request waiting for background sync
type QueuedRequest struct {
	Method string      `json:"method"`
	URL    string      `json:"url"`
	Header http.Header `json:"header"`
	Body   []byte      `json:"body"`
	Queued time.Time   `json:"queued"`
}

// SyncResult summarises one background sync
type SyncResult struct {
	Replayed int `json:"replayed"`
	Failed   int `json:"failed"`
}
