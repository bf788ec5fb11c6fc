package browser

import "context"

// Driver creates isolated browsing contexts. Implementations: http (no
// JavaScript), chromedp (Chrome DevTools) and playwright.
type Driver interface {
	Name() string
	NewContext(ctx context.Context, opts ContextOptions) (DriverContext, error)
	Close() error
}

// ContextOptions configures a new browsing context.
type ContextOptions struct {
	SessionID string
	Viewport  Viewport
	UserAgent string
}

// DriverContext owns one session's cookies and storage and opens pages in it.
type DriverContext interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Page is a single tab inside a DriverContext. Calls on one Page are
// serialized by the Manager.
type Page interface {
	// Load navigates to url and returns the loaded document.
	Load(ctx context.Context, url string) (*PageLoad, error)
	// Click clicks the first element matching selector, or the point x/y when
	// selector is empty. A non-nil PageLoad means the click navigated.
	Click(ctx context.Context, selector string, x, y float64) (*PageLoad, error)
	Type(ctx context.Context, selector, text string) error
	Scroll(ctx context.Context, dx, dy float64) error
	// Extract returns the trimmed text of every element matching selector.
	Extract(ctx context.Context, selector string) ([]string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// PageLoad describes a loaded document.
type PageLoad struct {
	URL        string
	Title      string
	StatusCode int
	HTML       string
}
