package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Target names used by the purchase pipeline.
const (
	targetCookieBanner = "cookie_banner"
	targetUsername     = "username"
	targetPassword     = "password"
	targetLoginSubmit  = "login_submit"
	targetConsent      = "consent"
	targetBuyNow       = "buy_now"
	targetCheckout     = "checkout"
	targetShipping     = "shipping"
	targetPayment      = "payment"
	targetAgreement    = "agreement"
	targetPay          = "pay"
)

type Config struct {
	DataFile string `yaml:"data_file"`
	URLFile  string `yaml:"url_file"`
	Locale   string `yaml:"locale"`

	Site    SiteConfig    `yaml:"site"`
	Browser BrowserConfig `yaml:"browser"`
	Delays  DelayConfig   `yaml:"delays"`
	Status  StatusConfig  `yaml:"status"`
	Storage StorageConfig `yaml:"storage"`
	Sale    SaleConfig    `yaml:"sale"`

	DebugMode bool `yaml:"debug_mode"`

	Targets map[string]Target `yaml:"targets"`
}

type SiteConfig struct {
	LoginURL string `yaml:"login_url"`
	// LoginMarker is a URL substring present only while still on the login page.
	LoginMarker string `yaml:"login_marker"`
}

type BrowserConfig struct {
	Headless        bool   `yaml:"headless"`
	Device          string `yaml:"device"`
	ProfilePath     string `yaml:"profile_path"`
	PageLoadTimeout int    `yaml:"page_load_timeout"`
	KeepOpenSeconds int    `yaml:"keep_open_seconds"`
}

type DelayConfig struct {
	SettleMs               int `yaml:"settle_ms"`
	ReadyTimeoutSeconds    int `yaml:"ready_timeout_seconds"`
	StageTimeoutSeconds    int `yaml:"stage_timeout_seconds"`
	StageRetries           int `yaml:"stage_retries"`
	RetryDelayMs           int `yaml:"retry_delay_ms"`
	LoginWaitSeconds       int `yaml:"login_wait_seconds"`
	OptionalWaitSeconds    int `yaml:"optional_wait_seconds"`
	NavigateAttempts       int `yaml:"navigate_attempts"`
	NavigateBackoffSeconds int `yaml:"navigate_backoff_seconds"`
	ResultSettleSeconds    int `yaml:"result_settle_seconds"`
}

type StatusConfig struct {
	Endpoint        string            `yaml:"endpoint"`
	Headers         map[string]string `yaml:"headers"`
	TimeoutSeconds  int               `yaml:"timeout_seconds"`
	PollDelayMs     int               `yaml:"poll_delay_ms"`
	MonitorInterval int               `yaml:"monitor_interval_seconds"`
	MaxRPS          float64           `yaml:"max_rps"`
	PollConcurrency int               `yaml:"poll_concurrency"`
}

type StorageConfig struct {
	Backend    string `yaml:"backend"`
	Dir        string `yaml:"dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

type SaleConfig struct {
	// Time is the sale start; empty disables the scheduled start.
	Time               string `yaml:"time"`
	StartBeforeSeconds int    `yaml:"start_before_seconds"`
	SyncClock          bool   `yaml:"sync_clock"`
}

func DefaultConfig() *Config {
	userDataDir := getUserDataDir()

	return &Config{
		DataFile: "data.txt",
		URLFile:  "url.txt",
		Site: SiteConfig{
			LoginURL:    "https://account.xiaomi.com/pass/serviceLogin",
			LoginMarker: "serviceLogin",
		},
		Browser: BrowserConfig{
			Headless:        false,
			Device:          "galaxy_s20",
			ProfilePath:     filepath.Join(userDataDir, "browser-profile"),
			PageLoadTimeout: 15,
			KeepOpenSeconds: 10,
		},
		Delays: DelayConfig{
			SettleMs:               500,
			ReadyTimeoutSeconds:    10,
			StageTimeoutSeconds:    60,
			StageRetries:           1,
			RetryDelayMs:           1000,
			LoginWaitSeconds:       10,
			OptionalWaitSeconds:    3,
			NavigateAttempts:       5,
			NavigateBackoffSeconds: 2,
			ResultSettleSeconds:    3,
		},
		Status: StatusConfig{
			Endpoint:        "https://go.buy.mi.co.id/id/misc/getgoodsinformation?from=mobile&tag={tag}",
			Headers:         defaultStatusHeaders(),
			TimeoutSeconds:  10,
			PollDelayMs:     2000,
			MonitorInterval: 5,
			MaxRPS:          5,
			PollConcurrency: 1,
		},
		Storage: StorageConfig{
			Backend:    "json",
			Dir:        "results",
			SQLitePath: "flashbuy.db",
		},
		Sale: SaleConfig{
			StartBeforeSeconds: 5,
			SyncClock:          true,
		},
		Targets: DefaultTargets(),
	}
}

func defaultStatusHeaders() map[string]string {
	return map[string]string{
		"accept":             "*/*",
		"accept-language":    "en-US,en;q=0.9",
		"cache-control":      "no-cache",
		"content-type":       "application/x-www-form-urlencoded; charset=UTF-8",
		"origin":             "https://www.mi.co.id",
		"pragma":             "no-cache",
		"referer":            "https://www.mi.co.id/",
		"sec-ch-ua-mobile":   "?1",
		"sec-ch-ua-platform": `"Android"`,
		"sec-fetch-dest":     "empty",
		"sec-fetch-mode":     "cors",
		"sec-fetch-site":     "same-site",
		"user-agent":         "Mozilla/5.0 (Linux; Android 8.0.0; SM-G955U Build/R16NW) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/137.0.0.0 Mobile Safari/537.36",
	}
}

// DefaultTargets is the locator and method table for the storefront.
func DefaultTargets() map[string]Target {
	return map[string]Target{
		targetCookieBanner: {
			Locators: []Locator{Attr(".mi-cookie-banner__button")},
			Methods:  []Method{MethodScripted, MethodDirect},
		},
		targetUsername: {
			Locators: []Locator{Attr(`input[name="account"]`)},
		},
		targetPassword: {
			Locators: []Locator{Attr(`input[name="password"]`)},
		},
		targetLoginSubmit: {
			Locators: []Locator{Attr("button[type='submit']")},
			Methods:  []Method{MethodScripted, MethodDirect, MethodSynthetic},
		},
		targetConsent: {
			Locators: []Locator{Attr("#truste-consent-button"), TextIn("button", "Accept")},
			Methods:  []Method{MethodDirect, MethodScripted},
		},
		targetBuyNow: {
			Locators: []Locator{
				Attr(".footer__btn.footer__submit.footer__submit--main"),
				Attr(".footer__submit--main"),
				TextIn("button", "Beli Sekarang"),
				TextIn("*", "Beli Sekarang"),
			},
			Indicators: []string{"cart", "checkout"},
		},
		targetCheckout: {
			Locators: []Locator{
				Attr(".cart-footer__submit"),
				Attr("button.cart-footer__submit"),
				Attr(".cart-footer .mi-btn"),
				Attr(".checkout-btn"),
				Attr(".cart-checkout-btn"),
				Attr("button[data-testid='checkout']"),
				Attr(".mi-btn.mi-btn--primary"),
				Attr(".cart-footer button"),
				Attr(".cart-actions button"),
				Attr(".footer__submit"),
				Attr(".cart-bottom button"),
				Attr(".checkout-section button"),
				Attr(".cart-summary button"),
				Attr(".mobile-checkout-btn"),
				Attr(".cart-footer__btn"),
				Attr(".cart-submit-btn"),
				Attr("button[class*='checkout']"),
				Attr("button[class*='cart-footer']"),
				Attr("button[class*='submit']"),
				Path("//button[contains(text(), 'Checkout')]"),
				Path("//button[contains(text(), 'checkout')]"),
				Path("//*[contains(@class, 'checkout') and (self::button or self::a)]"),
			},
			Indicators: []string{"checkout", "order", "payment"},
		},
		targetShipping: {
			Locators: []Locator{
				Attr(`input[name="delivery-item"][value="normal"]`),
				Attr(`i[aria-label="Pengiriman standar"]`),
				Attr("i.radio__icon.micon.micon-radio-unchecked"),
				Attr(`input.radio__input[name="delivery-item"]`),
				Attr(`.radio__icon[role="radio"]`),
				Attr(`.delivery-option input[type="radio"]`),
				Attr(`input[type="radio"][name="delivery-item"]`),
				Attr(".radio-wrapper .radio__icon"),
				Attr(".shipping-option .radio__icon"),
				TextIn("div", "Pengiriman standar"),
				TextIn("span", "Pengiriman standar"),
				TextIn("label", "Pengiriman standar"),
			},
			Constraints: Constraints{AllowDisabled: true},
			Ready:       []Locator{Attr(`input[name="delivery-item"], .radio__icon, .delivery-option`)},
		},
		targetPayment: {
			Locators: []Locator{
				Attr(`img[alt="bca"]`),
				Attr(`img[alt="BCA"]`),
				Attr(`img[src*="bca"]`),
				Attr(`img[src*="BCA"]`),
				Path("//div[contains(@class, 'checkout-pay__item') and .//img[@alt='bca']]"),
				Path("//div[contains(@class, 'pay-item') and .//img[@alt='bca']]"),
				Attr(`.checkout-pay__item .radio__icon[data-id="pay-method-radio"]`),
				Attr(".checkout-pay__item.pay-item .radio-wrapper"),
				Attr(".checkout-pay__item .radio__wrapper"),
				Attr(".pay-item .radio__icon"),
				Attr(".pay-item .radio__wrapper"),
				Attr(`.checkout-pay__item input[type="radio"]`),
				Attr(`.pay-item input[type="radio"]`),
				Attr(`input[name*="payment"][value*="bca"]`),
				Attr(`input[name*="payment"][value*="BCA"]`),
				Attr(".checkout-pay__item.pay-item"),
				Attr(".pay-item__right"),
				Attr("article .pay-item__right"),
				Attr(".checkout-pay__item .radio__icon"),
				Attr(".pay-method-radio"),
			},
			Constraints: Constraints{Context: []string{"bca"}, ContextFrom: 6, AllowDisabled: true},
			Ready:       []Locator{Attr(`.checkout-pay__item, .pay-item, img[alt="bca"]`)},
		},
		targetAgreement: {
			Locators: []Locator{
				Attr(`i[aria-labelledby="a11y-agree"][role="checkbox"]`),
				Attr("i.checkbox__icon.micon.micon-checkbox-unchecked"),
				Attr(`i[role="checkbox"][aria-checked="false"]`),
				Attr(`.checkbox__icon[role="checkbox"]`),
				Attr(`i[role="checkbox"]`),
				Attr(".checkbox__icon"),
				Attr("i.micon-checkbox-unchecked"),
				Attr(`input[type="checkbox"]`),
				Attr(".checkbox-wrapper"),
				Attr(`[role="checkbox"]`),
			},
			Constraints: Constraints{AllowDisabled: true},
			Ready:       []Locator{Attr(`.checkbox__icon, i[role="checkbox"], i[aria-labelledby="a11y-agree"]`)},
		},
		targetPay: {
			Locators: []Locator{
				Attr("button.mi-btn.mi-btn--primary.mi-btn--normal.mi-btn--light.checkout-footer__submit--pay"),
				Attr(".checkout-footer__submit--pay"),
				Attr("button.checkout-footer__submit--pay"),
				Attr(".mi-btn.checkout-footer__submit--pay"),
				Attr(`button[aria-disabled="false"].checkout-footer__submit--pay`),
				Attr(`button.mi-btn.mi-btn--primary[aria-disabled="false"]`),
				Attr(".checkout-footer__submit"),
				Attr("button.mi-btn--primary"),
				Attr(".payment-submit-btn"),
				Attr(`button[tabindex="0"][aria-disabled="false"]`),
			},
			Constraints: Constraints{Context: []string{"bayar", "sekarang", "pay"}, ContextFrom: 5},
			Methods:     []Method{MethodDirect, MethodScripted, MethodSynthetic, MethodPointer},
			Ready:       []Locator{Attr(`.checkout-footer__submit--pay, button[aria-disabled="false"]`)},
			Indicators:  []string{"pay", "bca", "result"},
		},
	}
}

// LoadConfig reads path, creating it with defaults when missing, then applies
// environment overrides from .env and the process environment.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := config.Save(path); err != nil {
			return nil, err
		}
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	// Missing targets fall back to the built-in table.
	defaults := DefaultTargets()
	if config.Targets == nil {
		config.Targets = defaults
	}
	for name, t := range defaults {
		if _, ok := config.Targets[name]; !ok {
			config.Targets[name] = t
		}
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	config.ApplyEnv(os.Getenv)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	if config.Browser.ProfilePath != "" {
		if err := os.MkdirAll(config.Browser.ProfilePath, 0755); err != nil {
			return nil, err
		}
	}

	return config, nil
}

// ApplyEnv overrides file values with FLASHBUY_* variables.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("FLASHBUY_HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Browser.Headless = b
		}
	}
	if v := getenv("FLASHBUY_STORAGE_DIR"); v != "" {
		c.Storage.Dir = v
	}
	if v := getenv("FLASHBUY_STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := getenv("FLASHBUY_DEVICE"); v != "" {
		c.Browser.Device = v
	}
	if v := getenv("FLASHBUY_LOCALE"); v != "" {
		c.Locale = v
	}
}

func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "json", "sqlite", "both":
	default:
		return fmt.Errorf("storage.backend must be json, sqlite or both, got %q", c.Storage.Backend)
	}
	if c.Delays.NavigateAttempts < 1 {
		return fmt.Errorf("delays.navigate_attempts must be at least 1")
	}
	if c.Status.PollConcurrency < 1 {
		c.Status.PollConcurrency = 1
	}
	if c.Browser.Device != "" {
		if _, ok := devicePresets[c.Browser.Device]; !ok {
			return fmt.Errorf("unknown device preset %q", c.Browser.Device)
		}
	}
	for name, t := range c.Targets {
		if len(t.Locators) == 0 {
			return fmt.Errorf("target %s has no locators", name)
		}
		for _, m := range t.Methods {
			if !m.valid() {
				return fmt.Errorf("target %s: unknown interaction method %q", name, m)
			}
		}
		for _, l := range t.Locators {
			switch l.Kind {
			case LocatorAttribute, LocatorPath, LocatorText:
			default:
				return fmt.Errorf("target %s: unknown locator kind %q", name, l.Kind)
			}
		}
	}
	if c.Sale.Time != "" {
		if _, err := ParseSaleTime(c.Sale.Time); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

func (c *Config) Target(name string) Target {
	return c.Targets[name]
}

func (c *Config) settle() time.Duration {
	return time.Duration(c.Delays.SettleMs) * time.Millisecond
}

func (c *Config) readyTimeout() time.Duration {
	return time.Duration(c.Delays.ReadyTimeoutSeconds) * time.Second
}

func (c *Config) optionalWait() time.Duration {
	return time.Duration(c.Delays.OptionalWaitSeconds) * time.Second
}

func (c *Config) stageTimeout() time.Duration {
	return time.Duration(c.Delays.StageTimeoutSeconds) * time.Second
}

func (c *Config) retryDelay() time.Duration {
	return time.Duration(c.Delays.RetryDelayMs) * time.Millisecond
}

func (c *Config) pollDelay() time.Duration {
	return time.Duration(c.Status.PollDelayMs) * time.Millisecond
}

func (c *Config) pageLoadTimeout() time.Duration {
	return time.Duration(c.Browser.PageLoadTimeout) * time.Second
}
