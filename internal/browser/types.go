package browser

import (
	"time"

	"github.com/rendis/tabflow/pkg/schema"
)

// Defaults applied when Config leaves a field zero.
const (
	DefaultViewportWidth     = 1280
	DefaultViewportHeight    = 800
	DefaultNavigationTimeout = 30 * time.Second
	DefaultPreviewChars      = 2000
	DefaultUserAgent         = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) tabflow/1.0 Safari/537.36"
)

// Viewport is the fixed window size of a browsing context.
type Viewport struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// Config controls every context and tab the Manager creates.
type Config struct {
	Viewport          Viewport
	UserAgent         string
	NavigationTimeout time.Duration
	ActionTimeout     time.Duration // bounds one Act call; defaults to NavigationTimeout
	PreviewChars      int
	Screenshots       bool // capture a screenshot after each successful navigation
	Policy            *URLPolicy
}

func (c Config) withDefaults() Config {
	if c.Viewport.Width <= 0 || c.Viewport.Height <= 0 {
		c.Viewport = Viewport{Width: DefaultViewportWidth, Height: DefaultViewportHeight}
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = DefaultNavigationTimeout
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = c.NavigationTimeout
	}
	if c.PreviewChars <= 0 {
		c.PreviewChars = DefaultPreviewChars
	}
	return c
}

// BrowsingContext is one session's isolated cookie/storage namespace.
type BrowsingContext struct {
	SessionID string    `json:"session_id"`
	Viewport  Viewport  `json:"viewport"`
	UserAgent string    `json:"user_agent"`
	CreatedAt time.Time `json:"created_at"`

	handle DriverContext
}

// HistoryEntry records one navigation attempt on a tab.
type HistoryEntry struct {
	URL       string    `json:"url"`
	OK        bool      `json:"ok"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TabInfo is a point-in-time copy of a tab's observable state.
type TabInfo struct {
	ID        string         `json:"tab_id"`
	SessionID string         `json:"session_id"`
	URL       string         `json:"url"`
	Title     string         `json:"title"`
	Loading   bool           `json:"loading"`
	State     TabState       `json:"state"`
	Active    bool           `json:"active"`
	History   []HistoryEntry `json:"history,omitempty"`
}

// NavigationResult is the outcome of loading a URL in a tab. Failures are
// reported through Error with OK=false rather than as a Go error.
type NavigationResult struct {
	TabID          string            `json:"tab_id"`
	SessionID      string            `json:"session_id"`
	OK             bool              `json:"ok"`
	URL            string            `json:"url"`
	Title          string            `json:"title,omitempty"`
	StatusCode     int               `json:"status_code,omitempty"`
	ContentPreview string            `json:"content_preview,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Screenshot     []byte            `json:"screenshot,omitempty"`
	ElapsedMs      int64             `json:"elapsed_ms"`
	Error          *schema.FlowError `json:"error,omitempty"`
}

// ActionKind names an in-page interaction.
type ActionKind string

const (
	ActClick      ActionKind = "click"
	ActType       ActionKind = "type"
	ActScroll     ActionKind = "scroll"
	ActWait       ActionKind = "wait"
	ActExtract    ActionKind = "extract"
	ActScreenshot ActionKind = "screenshot"
)

// Action is an in-page interaction request. Which fields apply depends on Kind:
// click uses Selector or X/Y, type uses Selector and Text, scroll uses DX/DY,
// wait uses Duration, extract uses Selector.
type Action struct {
	Kind     ActionKind    `json:"kind"`
	Selector string        `json:"selector,omitempty"`
	Text     string        `json:"text,omitempty"`
	X        float64       `json:"x,omitempty"`
	Y        float64       `json:"y,omitempty"`
	DX       float64       `json:"dx,omitempty"`
	DY       float64       `json:"dy,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// ActionResult is the outcome of an Act call.
type ActionResult struct {
	TabID     string            `json:"tab_id"`
	Kind      ActionKind        `json:"kind"`
	OK        bool              `json:"ok"`
	Data      map[string]any    `json:"data,omitempty"`
	ElapsedMs int64             `json:"elapsed_ms"`
	Error     *schema.FlowError `json:"error,omitempty"`
}
