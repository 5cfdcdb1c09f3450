package main

import (
	"context"
	"errors"
	"sync"
	"time"
)

// fakePage is an in-memory Document. Elements are registered under the
// String() form of the locator that finds them.
type fakePage struct {
	mu sync.Mutex

	url      string
	ready    string
	elements map[string][]*fakeElement
	queries  map[string]int

	navigated []string
	navErrs   []error
	cleared   int
	scrolled  int

	// onNavigate lets a test react to a page load, e.g. swap element sets.
	onNavigate func(p *fakePage, url string)
}

func newFakePage(url string) *fakePage {
	return &fakePage{
		url:      url,
		ready:    "complete",
		elements: map[string][]*fakeElement{},
		queries:  map[string]int{},
	}
}

func (p *fakePage) add(loc Locator, els ...*fakeElement) *fakePage {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, el := range els {
		el.page = p
	}
	p.elements[loc.String()] = append(p.elements[loc.String()], els...)
	return p
}

func (p *fakePage) remove(loc Locator) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.elements, loc.String())
}

func (p *fakePage) queryCount(loc Locator) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queries[loc.String()]
}

func (p *fakePage) setURL(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
}

func (p *fakePage) Query(ctx context.Context, loc Locator) ([]Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queries[loc.String()]++
	found := p.elements[loc.String()]
	out := make([]Element, len(found))
	for i, el := range found {
		out[i] = el
	}
	return out, nil
}

func (p *fakePage) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *fakePage) ReadyState(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready, nil
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.navigated = append(p.navigated, url)
	if len(p.navErrs) > 0 {
		err := p.navErrs[0]
		p.navErrs = p.navErrs[1:]
		if err != nil {
			p.mu.Unlock()
			return err
		}
	}
	p.url = url
	hook := p.onNavigate
	p.mu.Unlock()

	if hook != nil {
		hook(p, url)
	}
	return nil
}

func (p *fakePage) ClearState(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cleared++
	return nil
}

func (p *fakePage) ScrollToBottom(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scrolled++
	return nil
}

// fakeElement succeeds at every method unless a failure is queued for it.
// The zero value is visible and enabled.
type fakeElement struct {
	page *fakePage

	hidden   bool
	disabled bool
	text     string
	context  string
	attrs    map[string]string
	state    ElementState

	fail  map[Method][]error
	calls []Method
	input []string

	// onAction runs after a method succeeds.
	onAction func(e *fakeElement, m Method)
}

func (e *fakeElement) Visible(ctx context.Context) (bool, error) { return !e.hidden, nil }
func (e *fakeElement) Enabled(ctx context.Context) (bool, error) { return !e.disabled, nil }
func (e *fakeElement) Text(ctx context.Context) (string, error)  { return e.text, nil }

func (e *fakeElement) Attribute(ctx context.Context, name string) (string, error) {
	return e.attrs[name], nil
}

func (e *fakeElement) Context(ctx context.Context) (string, error) {
	if e.context != "" {
		return e.context, nil
	}
	return e.text, nil
}

func (e *fakeElement) State(ctx context.Context) (ElementState, error) { return e.state, nil }
func (e *fakeElement) ScrollIntoView(ctx context.Context) error       { return nil }

func (e *fakeElement) Input(ctx context.Context, text string) error {
	e.input = append(e.input, text)
	return nil
}

func (e *fakeElement) act(m Method) error {
	e.calls = append(e.calls, m)
	if queued := e.fail[m]; len(queued) > 0 {
		e.fail[m] = queued[1:]
		if queued[0] != nil {
			return queued[0]
		}
	}
	if e.onAction != nil {
		e.onAction(e, m)
	}
	return nil
}

func (e *fakeElement) Click(ctx context.Context) error         { return e.act(MethodDirect) }
func (e *fakeElement) ScriptClick(ctx context.Context) error   { return e.act(MethodScripted) }
func (e *fakeElement) DispatchClick(ctx context.Context) error { return e.act(MethodSynthetic) }
func (e *fakeElement) PointerClick(ctx context.Context) error  { return e.act(MethodPointer) }
func (e *fakeElement) ForceState(ctx context.Context) error    { return e.act(MethodForceState) }

// navigatesTo returns an action that moves the page to url.
func navigatesTo(url string) func(*fakeElement, Method) {
	return func(e *fakeElement, _ Method) { e.page.setURL(url) }
}

func selects(e *fakeElement, _ Method) { e.state.Selected = true }
func checks(e *fakeElement, _ Method)  { e.state.Checked = true }

// alwaysFail queues err for every default method, n times each.
func alwaysFail(err error, n int) map[Method][]error {
	fail := map[Method][]error{}
	for _, m := range DefaultMethods {
		for i := 0; i < n; i++ {
			fail[m] = append(fail[m], err)
		}
	}
	return fail
}

var errCovered = errors.New("element is covered by another element")

// recorder collects events for assertions.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Observe(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) find(step, outcome string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Step == step && (outcome == "" || e.Outcome == outcome) {
			out = append(out, e)
		}
	}
	return out
}

// scriptedStatus answers status queries from a fixed script, repeating the
// last entry once the script runs out.
type scriptedStatus struct {
	mu      sync.Mutex
	script  map[string][]Classification
	calls   map[string]int
	errs    map[string]error
	onQuery func(tag string)
}

func newScriptedStatus(script map[string][]Classification) *scriptedStatus {
	return &scriptedStatus{script: script, calls: map[string]int{}, errs: map[string]error{}}
}

func (s *scriptedStatus) Query(ctx context.Context, tag string) (Classification, Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return TransientError, Snapshot{}, err
	}
	s.mu.Lock()
	n := s.calls[tag]
	s.calls[tag]++
	script := s.script[tag]
	err := s.errs[tag]
	hook := s.onQuery
	s.mu.Unlock()

	if hook != nil {
		hook(tag)
	}
	if err != nil {
		return TransientError, Snapshot{}, err
	}
	if len(script) == 0 {
		return Unavailable, Snapshot{}, nil
	}
	if n >= len(script) {
		n = len(script) - 1
	}
	return script[n], Snapshot{Name: tag, SalePrice: "IDR 1.999.000"}, nil
}

func (s *scriptedStatus) count(tag string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[tag]
}

// memorySink keeps every record in memory.
type memorySink struct {
	mu           sync.Mutex
	polls        []PollEntry
	checks       []StockCheck
	availability []AvailabilityEvent
	sessions     []SessionSummary
	purchases    []PurchaseResult
	closed       bool
	err          error
}

func (m *memorySink) RecordPoll(ctx context.Context, e PollEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.polls = append(m.polls, e)
	return m.err
}

func (m *memorySink) RecordStockCheck(ctx context.Context, c StockCheck) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks = append(m.checks, c)
	return m.err
}

func (m *memorySink) RecordAvailability(ctx context.Context, e AvailabilityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.availability = append(m.availability, e)
	return m.err
}

func (m *memorySink) RecordSession(ctx context.Context, s SessionSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = append(m.sessions, s)
	return m.err
}

func (m *memorySink) RecordPurchase(ctx context.Context, r PurchaseResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purchases = append(m.purchases, r)
	return m.err
}

func (m *memorySink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// countingSleep records requested delays without waiting.
type countingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
	// after cancels once this many sleeps have happened, if set.
	after  int
	cancel context.CancelFunc
}

func (c *countingSleep) sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.delays = append(c.delays, d)
	n := len(c.delays)
	c.mu.Unlock()
	if c.cancel != nil && c.after > 0 && n >= c.after {
		c.cancel()
	}
	return ctx.Err()
}

func (c *countingSleep) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.delays)
}
