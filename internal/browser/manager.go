package browser

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rendis/tabflow/internal/logging"
	"github.com/rendis/tabflow/pkg/schema"
)

// Tab is one page inside a session's browsing context. Navigation and
// actions on a tab take the busy slot one at a time; mu guards the fields.
type Tab struct {
	ID        string
	SessionID string

	page Page
	busy chan struct{}

	mu      sync.Mutex
	state   TabState
	url     string
	title   string
	history []HistoryEntry
}

func newTab(id, sessionID string, page Page) *Tab {
	return &Tab{ID: id, SessionID: sessionID, page: page, busy: make(chan struct{}, 1), state: TabCreated}
}

// acquire waits for the tab's busy slot until ctx ends.
func (t *Tab) acquire(ctx context.Context) error {
	select {
	case t.busy <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Tab) release() { <-t.busy }

func (t *Tab) closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == TabClosed
}

func (t *Tab) record(entry HistoryEntry) {
	t.mu.Lock()
	t.history = append(t.history, entry)
	t.mu.Unlock()
}

func (t *Tab) info(active bool) TabInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.infoLocked(active)
}

func (t *Tab) infoLocked(active bool) TabInfo {
	return TabInfo{
		ID:        t.ID,
		SessionID: t.SessionID,
		URL:       t.url,
		Title:     t.title,
		Loading:   t.state == TabLoading,
		State:     t.state,
		Active:    active,
		History:   slices.Clone(t.history),
	}
}

type pendingContext struct {
	done chan struct{}
	bc   *BrowsingContext
	err  error
}

type session struct {
	ctx    *BrowsingContext
	tabs   []string // creation order
	active string
}

// Manager owns every browsing context and tab. Sessions never share a
// context; a tab belongs to exactly one session for its lifetime.
type Manager struct {
	driver Driver
	cfg    Config
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*session
	starting map[string]*pendingContext
	tabs     map[string]*Tab
}

// NewManager creates a Manager on top of driver.
func NewManager(driver Driver, cfg Config, logger *slog.Logger) *Manager {
	return &Manager{
		driver:   driver,
		cfg:      cfg.withDefaults(),
		logger:   logging.OrDiscard(logger),
		sessions: make(map[string]*session),
		starting: make(map[string]*pendingContext),
		tabs:     make(map[string]*Tab),
	}
}

// DriverName reports which driver backs this manager.
func (m *Manager) DriverName() string { return m.driver.Name() }

// GetOrCreateContext returns the session's browsing context, creating it on
// first use. Repeated calls return the same pointer.
func (m *Manager) GetOrCreateContext(ctx context.Context, sessionID string) (*BrowsingContext, error) {
	if sessionID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "session id is required")
	}

	m.mu.RLock()
	if s, ok := m.sessions[sessionID]; ok {
		m.mu.RUnlock()
		return s.ctx, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	if s, ok := m.sessions[sessionID]; ok {
		m.mu.Unlock()
		return s.ctx, nil
	}
	p, waiting := m.starting[sessionID]
	if !waiting {
		p = &pendingContext{done: make(chan struct{})}
		m.starting[sessionID] = p
	}
	m.mu.Unlock()

	// Driver startup can be slow; only callers for this session wait on it.
	if waiting {
		select {
		case <-p.done:
			return p.bc, p.err
		case <-ctx.Done():
			return nil, schema.NewErrorf(schema.ErrCodeNavigation, "create browsing context: %s", ctx.Err()).WithCause(ctx.Err())
		}
	}

	p.bc, p.err = m.newContext(ctx, sessionID)
	m.mu.Lock()
	delete(m.starting, sessionID)
	if p.err == nil {
		m.sessions[sessionID] = &session{ctx: p.bc}
	}
	m.mu.Unlock()
	close(p.done)
	return p.bc, p.err
}

func (m *Manager) newContext(ctx context.Context, sessionID string) (*BrowsingContext, error) {
	handle, err := m.driver.NewContext(ctx, ContextOptions{
		SessionID: sessionID,
		Viewport:  m.cfg.Viewport,
		UserAgent: m.cfg.UserAgent,
	})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeNavigation, "create browsing context: %s", err).WithCause(err)
	}
	m.logger.InfoContext(ctx, "browsing context created", "session_id", sessionID, "driver", m.driver.Name())
	return &BrowsingContext{
		SessionID: sessionID,
		Viewport:  m.cfg.Viewport,
		UserAgent: m.cfg.UserAgent,
		CreatedAt: time.Now().UTC(),
		handle:    handle,
	}, nil
}

// CreateTab opens a new tab in the session. An empty tabID gets a generated
// one; an id already in use anywhere returns a Conflict error.
func (m *Manager) CreateTab(ctx context.Context, sessionID, tabID string) (string, error) {
	bc, err := m.GetOrCreateContext(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if tabID == "" {
		tabID = uuid.New().String()
	}

	m.mu.RLock()
	_, taken := m.tabs[tabID]
	m.mu.RUnlock()
	if taken {
		return "", conflictTab(tabID)
	}

	page, err := bc.handle.NewPage(ctx)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeNavigation, "open tab: %s", err).WithCause(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		_ = page.Close()
		return "", notFoundSession(sessionID)
	}
	if _, taken := m.tabs[tabID]; taken {
		_ = page.Close()
		return "", conflictTab(tabID)
	}
	m.tabs[tabID] = newTab(tabID, sessionID, page)
	s.tabs = append(s.tabs, tabID)
	s.active = tabID
	m.logger.DebugContext(ctx, "tab created", "session_id", sessionID, "tab_id", tabID)
	return tabID, nil
}

func (m *Manager) lookupTab(tabID string) (*Tab, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tabs[tabID]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "tab %s not found", tabID).
			WithDetails(map[string]any{"tab_id": tabID})
	}
	return t, nil
}

func (m *Manager) setActive(sessionID, tabID string) {
	m.mu.Lock()
	if s, ok := m.sessions[sessionID]; ok {
		s.active = tabID
	}
	m.mu.Unlock()
}

// Navigate loads url in the tab. Load failures come back as a result with
// OK=false and a NavigationError; the returned error is only NotFound.
// Waiting for a busy tab counts against the navigation timeout.
func (m *Manager) Navigate(ctx context.Context, tabID, url string) (*NavigationResult, error) {
	t, err := m.lookupTab(tabID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res := &NavigationResult{TabID: t.ID, SessionID: t.SessionID, URL: url}

	navCtx, cancel := context.WithTimeout(ctx, m.cfg.NavigationTimeout)
	defer cancel()
	if err := t.acquire(navCtx); err != nil {
		return m.failNavigation(ctx, t, res, start, "tab busy: "+m.timeoutReason(err), err), nil
	}
	defer t.release()
	if t.closed() {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "tab %s is closed", tabID)
	}

	if perr := m.cfg.Policy.Check(url); perr != nil {
		return m.failNavigation(ctx, t, res, start, schema.AsFlowError(perr, schema.ErrCodeValidation).Message, perr), nil
	}

	t.mu.Lock()
	err = t.transition(TabLoading)
	t.mu.Unlock()
	if err != nil {
		return nil, err
	}

	load, lerr := t.page.Load(navCtx, url)
	t.mu.Lock()
	_ = t.transition(TabReady)
	t.mu.Unlock()

	if lerr != nil {
		return m.failNavigation(ctx, t, res, start, m.timeoutReason(lerr), lerr), nil
	}

	t.mu.Lock()
	t.url, t.title = load.URL, load.Title
	t.history = append(t.history, HistoryEntry{URL: load.URL, OK: true, Timestamp: time.Now().UTC()})
	t.mu.Unlock()

	res.OK = true
	res.URL = load.URL
	res.Title = load.Title
	res.StatusCode = load.StatusCode
	res.ContentPreview = contentPreview(load.HTML, load.URL, m.cfg.PreviewChars)
	res.Metadata = pageMetadata(load.HTML)
	if m.cfg.Screenshots {
		if shot, err := t.page.Screenshot(navCtx); err == nil {
			res.Screenshot = shot
		} else {
			m.logger.DebugContext(ctx, "screenshot skipped", "tab_id", tabID, "error", err)
		}
	}
	res.ElapsedMs = time.Since(start).Milliseconds()
	m.setActive(t.SessionID, t.ID)
	m.logger.InfoContext(ctx, "navigated", "tab_id", tabID, "url", load.URL, "status", load.StatusCode, "elapsed_ms", res.ElapsedMs)
	return res, nil
}

func (m *Manager) timeoutReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "navigation timed out after " + m.cfg.NavigationTimeout.String()
	}
	return err.Error()
}

// failNavigation fills res with a NavigationError carrying the attempted url
// and reason, and records the attempt in the tab history.
func (m *Manager) failNavigation(ctx context.Context, t *Tab, res *NavigationResult, start time.Time, reason string, cause error) *NavigationResult {
	res.ElapsedMs = time.Since(start).Milliseconds()
	res.Error = schema.NewErrorf(schema.ErrCodeNavigation, "navigate %s: %s", res.URL, reason).
		WithCause(cause).
		WithDetails(map[string]any{"url": res.URL, "reason": reason})
	t.record(HistoryEntry{URL: res.URL, Error: reason, Timestamp: time.Now().UTC()})
	m.logger.WarnContext(ctx, "navigation failed", "tab_id", t.ID, "url", res.URL, "error", reason)
	return res
}

// Open navigates within a session: it reuses tabID when the session owns it,
// otherwise creates the tab (a generated id when tabID is empty).
func (m *Manager) Open(ctx context.Context, sessionID, tabID, url string) (*NavigationResult, error) {
	if tabID != "" {
		if t, err := m.lookupTab(tabID); err == nil {
			if t.SessionID != sessionID {
				return nil, conflictTab(tabID).WithDetails(map[string]any{"tab_id": tabID, "owner": t.SessionID})
			}
			return m.Navigate(ctx, tabID, url)
		}
	}
	id, err := m.CreateTab(ctx, sessionID, tabID)
	if err != nil {
		return nil, err
	}
	return m.Navigate(ctx, id, url)
}

// Act performs an in-page interaction bounded by the action timeout. Driver
// failures, timeouts and unknown kinds come back as a result with an
// ActionError; the returned error is only NotFound.
func (m *Manager) Act(ctx context.Context, tabID string, action Action) (*ActionResult, error) {
	t, err := m.lookupTab(tabID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res := &ActionResult{TabID: tabID, Kind: action.Kind}

	actCtx, cancel := context.WithTimeout(ctx, m.cfg.ActionTimeout)
	defer cancel()
	if err := t.acquire(actCtx); err != nil {
		return failAction(res, action, start, schema.NewErrorf(schema.ErrCodeAction, "tab %s busy: %s", tabID, err).WithCause(err)), nil
	}
	defer t.release()
	if t.closed() {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "tab %s is closed", tabID)
	}

	data, aerr := m.perform(actCtx, t, action)
	if aerr != nil {
		return failAction(res, action, start, aerr), nil
	}
	res.ElapsedMs = time.Since(start).Milliseconds()
	res.OK = true
	res.Data = data
	return res, nil
}

func failAction(res *ActionResult, action Action, start time.Time, err error) *ActionResult {
	fe := schema.AsFlowError(err, schema.ErrCodeAction)
	if fe.Code != schema.ErrCodeAction {
		fe = schema.NewError(schema.ErrCodeAction, fe.Message).WithCause(err)
	}
	res.ElapsedMs = time.Since(start).Milliseconds()
	res.Error = fe.WithDetails(map[string]any{"tab_id": res.TabID, "kind": string(action.Kind)})
	return res
}

func (m *Manager) perform(ctx context.Context, t *Tab, a Action) (map[string]any, error) {
	switch a.Kind {
	case ActClick:
		load, err := t.page.Click(ctx, a.Selector, a.X, a.Y)
		if err != nil {
			return nil, err
		}
		data := map[string]any{"navigated": load != nil}
		if load != nil {
			t.mu.Lock()
			t.url, t.title = load.URL, load.Title
			t.history = append(t.history, HistoryEntry{URL: load.URL, OK: true, Timestamp: time.Now().UTC()})
			t.mu.Unlock()
			data["url"], data["title"] = load.URL, load.Title
		}
		return data, nil
	case ActType:
		if a.Selector == "" {
			return nil, schema.NewError(schema.ErrCodeAction, "type requires a selector")
		}
		if err := t.page.Type(ctx, a.Selector, a.Text); err != nil {
			return nil, err
		}
		return map[string]any{"selector": a.Selector, "typed": len(a.Text)}, nil
	case ActScroll:
		if err := t.page.Scroll(ctx, a.DX, a.DY); err != nil {
			return nil, err
		}
		return map[string]any{"dx": a.DX, "dy": a.DY}, nil
	case ActWait:
		timer := time.NewTimer(a.Duration)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, schema.NewError(schema.ErrCodeAction, "wait interrupted").WithCause(ctx.Err())
		case <-timer.C:
		}
		return map[string]any{"waited_ms": a.Duration.Milliseconds()}, nil
	case ActExtract:
		if a.Selector == "" {
			return nil, schema.NewError(schema.ErrCodeAction, "extract requires a selector")
		}
		texts, err := t.page.Extract(ctx, a.Selector)
		if err != nil {
			return nil, err
		}
		if texts == nil {
			texts = []string{}
		}
		return map[string]any{"selector": a.Selector, "matches": texts, "count": len(texts)}, nil
	case ActScreenshot:
		shot, err := t.page.Screenshot(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"screenshot": base64.StdEncoding.EncodeToString(shot), "bytes": len(shot)}, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeAction, "unknown action %q", a.Kind)
	}
}

// ListTabs returns the session's tabs in creation order.
func (m *Manager) ListTabs(sessionID string) ([]TabInfo, error) {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.RUnlock()
		return nil, notFoundSession(sessionID)
	}
	tabs := make([]*Tab, 0, len(s.tabs))
	for _, id := range s.tabs {
		tabs = append(tabs, m.tabs[id])
	}
	active := s.active
	m.mu.RUnlock()

	out := make([]TabInfo, 0, len(tabs))
	for _, t := range tabs {
		out = append(out, t.info(t.ID == active))
	}
	return out, nil
}

// ActiveTab returns the session's most recently created or navigated tab.
func (m *Manager) ActiveTab(sessionID string) (TabInfo, error) {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.RUnlock()
		return TabInfo{}, notFoundSession(sessionID)
	}
	t, ok := m.tabs[s.active]
	m.mu.RUnlock()
	if !ok {
		return TabInfo{}, schema.NewErrorf(schema.ErrCodeNotFound, "session %s has no open tab", sessionID)
	}
	return t.info(true), nil
}

// CloseTab closes the tab and forgets it.
func (m *Manager) CloseTab(ctx context.Context, tabID string) error {
	m.mu.Lock()
	t, ok := m.tabs[tabID]
	if !ok {
		m.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeNotFound, "tab %s not found", tabID)
	}
	delete(m.tabs, tabID)
	if s, ok := m.sessions[t.SessionID]; ok {
		s.tabs = slices.DeleteFunc(s.tabs, func(id string) bool { return id == tabID })
		if s.active == tabID {
			s.active = ""
			if n := len(s.tabs); n > 0 {
				s.active = s.tabs[n-1]
			}
		}
	}
	m.mu.Unlock()

	m.closeTab(ctx, t)
	return nil
}

// closeTab does not wait for the busy slot; closing the page ends any
// navigation or action still running on it.
func (m *Manager) closeTab(ctx context.Context, t *Tab) {
	t.mu.Lock()
	if t.state == TabClosed {
		t.mu.Unlock()
		return
	}
	_ = t.transition(TabClosed)
	t.mu.Unlock()
	if err := t.page.Close(); err != nil {
		m.logger.WarnContext(ctx, "close tab", "tab_id", t.ID, "error", err)
	}
}

// CloseSession tears down every tab and the browsing context. Later calls for
// the session or its tabs return NotFound.
func (m *Manager) CloseSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return notFoundSession(sessionID)
	}
	delete(m.sessions, sessionID)
	tabs := make([]*Tab, 0, len(s.tabs))
	for _, id := range s.tabs {
		tabs = append(tabs, m.tabs[id])
		delete(m.tabs, id)
	}
	m.mu.Unlock()

	for _, t := range tabs {
		m.closeTab(ctx, t)
	}
	if err := s.ctx.handle.Close(); err != nil {
		m.logger.WarnContext(ctx, "close browsing context", "session_id", sessionID, "error", err)
	}
	m.logger.InfoContext(ctx, "session closed", "session_id", sessionID, "tabs", len(tabs))
	return nil
}

// Sessions returns the ids of open sessions.
func (m *Manager) Sessions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Shutdown closes every session and the driver.
func (m *Manager) Shutdown(ctx context.Context) error {
	for _, id := range m.Sessions() {
		_ = m.CloseSession(ctx, id)
	}
	return m.driver.Close()
}

func notFoundSession(sessionID string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "session %s not found", sessionID).
		WithDetails(map[string]any{"session_id": sessionID})
}

func conflictTab(tabID string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeConflict, "tab id %s already in use", tabID).
		WithDetails(map[string]any{"tab_id": tabID})
}
