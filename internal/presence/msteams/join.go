package msteams

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// prejoin selectors. The anonymous-join screen asks for a display name and
// offers a single join button; both vary between Teams builds.
var (
	joinNameSelectors = []string{
		`[data-tid="prejoin-display-name-input"]`,
		`input[placeholder*="name" i]`,
	}
	joinButtonSelectors = []string{
		`[data-tid="prejoin-join-button"]`,
		`button[aria-label*="Join" i]`,
	}
)

// prejoinTimeout bounds each prejoin element lookup. Some tenants skip the
// prejoin screen entirely, so absence is not an error.
const prejoinTimeout = 15 * time.Second

// JoinConfig configures [Join].
type JoinConfig struct {
	// MeetingURL is the Teams meeting link.
	MeetingURL string

	// BotName is typed into the prejoin display name field.
	BotName string

	// ChromeBin overrides the browser binary. Empty lets the launcher find
	// or download one.
	ChromeBin string

	// Headless defaults to true; set ShowBrowser to run headful.
	ShowBrowser bool
}

// Join launches a browser, navigates to the meeting, and walks the anonymous
// prejoin flow. It returns the meeting page and a cleanup function that
// closes the browser.
func Join(cfg JoinConfig) (*rod.Page, func() error, error) {
	l := launcher.New().
		Headless(!cfg.ShowBrowser).
		Set("use-fake-ui-for-media-stream").
		Set("autoplay-policy", "no-user-gesture-required").
		Set("disable-gpu").
		Set("no-sandbox").
		Set("disable-dev-shm-usage")
	if cfg.ChromeBin != "" {
		l = l.Bin(cfg.ChromeBin)
	}
	controlURL, err := l.Launch()
	if err != nil {
		return nil, nil, fmt.Errorf("msteams: launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, nil, fmt.Errorf("msteams: connect browser: %w", err)
	}
	cleanup := func() error { return browser.Close() }

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = cleanup()
		return nil, nil, fmt.Errorf("msteams: open page: %w", err)
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width: 1280, Height: 720, DeviceScaleFactor: 1,
	}); err != nil {
		_ = cleanup()
		return nil, nil, fmt.Errorf("msteams: set viewport: %w", err)
	}

	slog.Info("msteams: navigating to meeting", "url", cfg.MeetingURL)
	if err := page.Navigate(cfg.MeetingURL); err != nil {
		_ = cleanup()
		return nil, nil, fmt.Errorf("msteams: navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		_ = cleanup()
		return nil, nil, fmt.Errorf("msteams: wait load: %w", err)
	}

	completePrejoin(page, cfg.BotName)
	return page, cleanup, nil
}

// completePrejoin fills the display name and clicks the join button. Both
// steps are best-effort: tenants with different join policies render this
// screen differently or not at all.
func completePrejoin(page *rod.Page, botName string) {
	if botName != "" {
		if el := findFirst(page, joinNameSelectors); el != nil {
			if err := el.Input(botName); err != nil {
				slog.Warn("msteams: typing display name failed", "err", err)
			}
		} else {
			slog.Info("msteams: no prejoin name field, continuing")
		}
	}

	if el := findFirst(page, joinButtonSelectors); el != nil {
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			slog.Warn("msteams: join click failed", "err", err)
		} else {
			slog.Info("msteams: join requested")
		}
	} else {
		slog.Info("msteams: no join button, assuming already in meeting")
	}
}

// findFirst returns the first element matching any selector, or nil.
func findFirst(page *rod.Page, selectors []string) *rod.Element {
	for _, sel := range selectors {
		el, err := page.Timeout(prejoinTimeout).Element(sel)
		if err == nil && el != nil {
			return el
		}
	}
	return nil
}
