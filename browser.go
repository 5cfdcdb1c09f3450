package main

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/devices"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"
)

// devicePresets are the mobile profiles the storefront is driven with.
var devicePresets = map[string]devices.Device{
	"galaxy_s20":        mobileDevice("Samsung Galaxy S20", 412, 915, 3.0, "Mozilla/5.0 (Linux; Android 12; SM-G981B) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36"),
	"iphone_14":         mobileDevice("iPhone 14", 390, 844, 3.0, "Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1"),
	"iphone_14_pro_max": mobileDevice("iPhone 14 Pro Max", 428, 926, 3.0, "Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1"),
	"galaxy_s23_ultra":  mobileDevice("Samsung Galaxy S23 Ultra", 412, 915, 3.0, "Mozilla/5.0 (Linux; Android 13; SM-S918B) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36"),
	"pixel_7":           mobileDevice("Google Pixel 7", 412, 915, 2.75, "Mozilla/5.0 (Linux; Android 13; Pixel 7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36"),
	"xiaomi_13":         mobileDevice("Xiaomi 13", 412, 915, 3.0, "Mozilla/5.0 (Linux; Android 13; 2210132C) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36"),
}

func mobileDevice(title string, width, height int, ratio float64, ua string) devices.Device {
	return devices.Device{
		Title:          title,
		Capabilities:   []string{"touch", "mobile"},
		UserAgent:      ua,
		AcceptLanguage: "id-ID,id;q=0.9,en-US;q=0.8,en;q=0.7",
		Screen: devices.Screen{
			DevicePixelRatio: ratio,
			Horizontal:       devices.ScreenSize{Width: height, Height: width},
			Vertical:         devices.ScreenSize{Width: width, Height: height},
		},
	}
}

// Session owns the browser process and the single page a run drives. It
// implements Document over that page.
type Session struct {
	config   BrowserConfig
	logger   *zap.Logger
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	stop     chan struct{}
}

func NewSession(config BrowserConfig, logger *zap.Logger) *Session {
	return &Session{
		config: config,
		logger: logger.Named("browser"),
		stop:   make(chan struct{}),
	}
}

// Launch starts the browser and opens a stealth page emulating the
// configured device. onClosed runs if the user closes the browser.
func (s *Session) Launch(onClosed func()) error {
	// Leakless deadlocks on Windows, see go-rod/rod#853.
	useLeakless := runtime.GOOS != "windows"

	s.launcher = launcher.New().
		Leakless(useLeakless).
		Headless(s.config.Headless)

	// The profile must be set before Bin.
	if s.config.ProfilePath != "" {
		s.launcher = s.launcher.UserDataDir(s.config.ProfilePath)
	}

	if chromePath, ok := launcher.LookPath(); ok {
		s.launcher = s.launcher.Bin(chromePath)
		s.logger.Debug("using system chrome", zap.String("path", chromePath))
	} else {
		s.logger.Info("system chrome not found, downloading chromium")
	}

	url, err := s.launcher.Launch()
	if err != nil {
		return classifyLaunchError(err)
	}

	s.browser = rod.New().ControlURL(url)
	if err := s.browser.Connect(); err != nil {
		return fmt.Errorf("failed to connect to browser: %w", err)
	}

	s.page, err = stealth.Page(s.browser)
	if err != nil {
		return fmt.Errorf("failed to create stealth page: %w", err)
	}

	if device, ok := devicePresets[s.config.Device]; ok {
		if err := s.page.Emulate(device); err != nil {
			s.logger.Warn("device emulation failed", zap.String("device", s.config.Device), zap.Error(err))
		} else {
			s.logger.Debug("emulating device", zap.String("device", device.Title))
		}
	}

	if onClosed != nil {
		go s.watch(onClosed)
	}
	return nil
}

func classifyLaunchError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "Opening in existing browser session"),
		strings.Contains(msg, "ProcessSingleton"),
		strings.Contains(msg, "SingletonLock"):
		return fmt.Errorf("%s: %w", T("error_chrome_already_running"), err)
	case strings.Contains(msg, "Access is denied"), strings.Contains(msg, "permission denied"):
		return fmt.Errorf("%s: %w", T("error_browser_download_permission"), err)
	default:
		return fmt.Errorf("failed to launch browser: %w", err)
	}
}

func (s *Session) alive() bool {
	if s.browser == nil {
		return false
	}
	if _, err := s.browser.Version(); err != nil {
		s.logger.Debug("browser version check failed", zap.Error(err))
		return false
	}
	if s.page != nil {
		if _, err := s.page.Info(); err != nil {
			s.logger.Debug("page info check failed", zap.Error(err))
			return false
		}
	}
	return true
}

func (s *Session) watch(onClosed func()) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if !s.alive() {
				onClosed()
				return
			}
		}
	}
}

func (s *Session) Close() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}

	if s.page != nil {
		s.page.Close()
	}
	if s.browser != nil {
		s.browser.Close()
	}
	if s.launcher != nil {
		s.launcher.Cleanup()
	}
}

func (s *Session) Query(ctx context.Context, loc Locator) ([]Element, error) {
	page := s.page.Context(ctx)

	var (
		found rod.Elements
		err   error
	)
	switch loc.Kind {
	case LocatorAttribute:
		found, err = page.Elements(loc.Pattern)
	case LocatorPath, LocatorText:
		found, err = page.ElementsX(loc.XPath())
	default:
		return nil, fmt.Errorf("unknown locator kind %q", loc.Kind)
	}
	if err != nil {
		return nil, err
	}

	elements := make([]Element, len(found))
	for i, el := range found {
		elements[i] = &browserElement{el: el}
	}
	return elements, nil
}

func (s *Session) URL(ctx context.Context) (string, error) {
	res, err := s.page.Context(ctx).Eval(`() => window.location.href`)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

func (s *Session) ReadyState(ctx context.Context) (string, error) {
	res, err := s.page.Context(ctx).Eval(`() => document.readyState`)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.page.Context(ctx).Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate: %w", err)
	}
	return nil
}

// ClearState drops cookies and web storage for the current origin.
func (s *Session) ClearState(ctx context.Context) error {
	page := s.page.Context(ctx)
	if err := (proto.NetworkClearBrowserCookies{}).Call(page); err != nil {
		return fmt.Errorf("clearing cookies: %w", err)
	}
	if _, err := page.Eval(`() => { try { localStorage.clear(); sessionStorage.clear(); } catch (e) {} }`); err != nil {
		return fmt.Errorf("clearing storage: %w", err)
	}
	return nil
}

func (s *Session) ScrollToBottom(ctx context.Context) error {
	_, err := s.page.Context(ctx).Eval(`() => window.scrollTo(0, document.body.scrollHeight)`)
	return err
}

// HTML returns the current page markup for snapshot extraction.
func (s *Session) HTML(ctx context.Context) (string, error) {
	return s.page.Context(ctx).HTML()
}

type browserElement struct {
	el *rod.Element
}

func (e *browserElement) with(ctx context.Context) *rod.Element { return e.el.Context(ctx) }

func (e *browserElement) Visible(ctx context.Context) (bool, error) {
	return e.with(ctx).Visible()
}

func (e *browserElement) Enabled(ctx context.Context) (bool, error) {
	el := e.with(ctx)
	disabled, err := el.Disabled()
	if err != nil {
		return false, err
	}
	if disabled {
		return false, nil
	}
	aria, err := el.Attribute("aria-disabled")
	if err != nil {
		return false, err
	}
	return aria == nil || *aria != "true", nil
}

func (e *browserElement) Text(ctx context.Context) (string, error) {
	return e.with(ctx).Text()
}

func (e *browserElement) Attribute(ctx context.Context, name string) (string, error) {
	v, err := e.with(ctx).Attribute(name)
	if err != nil || v == nil {
		return "", err
	}
	return *v, nil
}

const elementContextJS = `() => {
	const parts = [this.innerText || this.textContent || ''];
	for (const name of ['alt', 'src', 'value', 'title', 'aria-label']) {
		const v = this.getAttribute(name);
		if (v) parts.push(v);
	}
	if (this.parentElement) parts.push(this.parentElement.innerText || '');
	const kids = this.querySelectorAll('*');
	for (let i = 0; i < Math.min(5, kids.length); i++) {
		parts.push(kids[i].innerText || kids[i].textContent || '');
		const alt = kids[i].getAttribute('alt');
		if (alt) parts.push(alt);
	}
	return parts.join(' ');
}`

func (e *browserElement) Context(ctx context.Context) (string, error) {
	res, err := e.with(ctx).Eval(elementContextJS)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

const elementStateJS = `() => {
	const state = {checked: false, selected: false};
	if (this.checked === true || this.getAttribute('aria-checked') === 'true') state.checked = true;
	const active = /^(checked|selected|active)$|[-_](checked|selected|active)$/;
	for (const node of [this, this.parentElement]) {
		if (!node) continue;
		if (node.getAttribute('aria-checked') === 'true' || node.getAttribute('aria-selected') === 'true') state.selected = true;
		for (const cls of node.classList) {
			if (active.test(cls.toLowerCase())) state.selected = true;
		}
	}
	return state;
}`

func (e *browserElement) State(ctx context.Context) (ElementState, error) {
	res, err := e.with(ctx).Eval(elementStateJS)
	if err != nil {
		return ElementState{}, err
	}
	return ElementState{
		Checked:  res.Value.Get("checked").Bool(),
		Selected: res.Value.Get("selected").Bool(),
	}, nil
}

func (e *browserElement) ScrollIntoView(ctx context.Context) error {
	_, err := e.with(ctx).Eval(`() => this.scrollIntoView({behavior: 'instant', block: 'center'})`)
	return err
}

func (e *browserElement) Input(ctx context.Context, text string) error {
	el := e.with(ctx)
	if err := el.SelectAllText(); err != nil {
		return err
	}
	return el.Input(text)
}

func (e *browserElement) Click(ctx context.Context) error {
	return e.with(ctx).Click(proto.InputMouseButtonLeft, 1)
}

func (e *browserElement) ScriptClick(ctx context.Context) error {
	_, err := e.with(ctx).Eval(`() => this.click()`)
	return err
}

func (e *browserElement) DispatchClick(ctx context.Context) error {
	_, err := e.with(ctx).Eval(`() => this.dispatchEvent(new MouseEvent('click', {bubbles: true, cancelable: true, view: window}))`)
	return err
}

// PointerClick moves the mouse to a point inside the element and clicks
// there, whatever is on top.
func (e *browserElement) PointerClick(ctx context.Context) error {
	el := e.with(ctx)
	shape, err := el.Shape()
	if err != nil {
		return err
	}
	pt := shape.OnePointInside()
	if pt == nil {
		return errors.New("element has no clickable area")
	}
	mouse := el.Page().Context(ctx).Mouse
	if err := mouse.MoveTo(*pt); err != nil {
		return err
	}
	return mouse.Click(proto.InputMouseButtonLeft, 1)
}

// ForceState marks the element checked and announces it with change and
// input events.
func (e *browserElement) ForceState(ctx context.Context) error {
	_, err := e.with(ctx).Eval(`() => {
		if ('checked' in this) this.checked = true;
		if (this.getAttribute('role') === 'checkbox' || this.getAttribute('role') === 'radio') this.setAttribute('aria-checked', 'true');
		this.dispatchEvent(new Event('input', {bubbles: true}));
		this.dispatchEvent(new Event('change', {bubbles: true}));
	}`)
	return err
}
