package uploadicloud

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// automator is the narrow browser-control surface Engine needs, letting
// tests substitute a fake instead of driving a real Chrome instance.
type automator interface {
	LoadCookies(ctx context.Context, cookies []Cookie) error
	Cookies(ctx context.Context) ([]Cookie, error)
	ReachedPhotosReady(ctx context.Context, timeout time.Duration) bool
	ResolveFileInput(ctx context.Context, selector string, timeout time.Duration) bool
	FrameWalkFileInput(ctx context.Context, timeout time.Duration) (string, bool)
	ListCandidateSelectors(ctx context.Context) []string
	UploadFile(ctx context.Context, selector, path string) error
	WaitUploadComplete(ctx context.Context, timeout time.Duration) error
	Close() error
}

const photosReadySelector = `[data-testid="photos-library-ready"]`

// busyIndicatorSelector and progressCompleteSelector are bundled,
// best-effort default markers for upload completion. WaitUploadComplete
// waits only for the busy indicator to disappear; progressCompleteSelector
// is probed only by ListCandidateSelectors.
const (
	busyIndicatorSelector    = `.upload-progress.busy`
	progressCompleteSelector = `.upload-progress[data-percent="100"]`
)

// chromeAutomator drives a real Chrome instance via chromedp — the
// standard Go headless-browser-automation library (no browser-automation
// library appears anywhere in the retrieved example pack, so this is a
// documented out-of-pack addition rather than a stdlib substitute).
type chromeAutomator struct {
	allocCancel context.CancelFunc
	ctxCancel   context.CancelFunc
	ctx         context.Context
	uploadURL   string
}

// newChromeAutomator starts a Chrome instance (headless unless headless is
// false, per PUPPETEER_HEADLESS) and navigates it to uploadURL.
func newChromeAutomator(ctx context.Context, uploadURL string, headless bool) (*chromeAutomator, error) {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts, chromedp.Flag("headless", headless))

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)

	browserCtx, ctxCancel := chromedp.NewContext(allocCtx)

	if err := chromedp.Run(browserCtx, network.Enable(), chromedp.Navigate(uploadURL)); err != nil {
		ctxCancel()
		allocCancel()

		return nil, fmt.Errorf("uploadicloud: launching browser: %w", err)
	}

	return &chromeAutomator{
		allocCancel: allocCancel,
		ctxCancel:   ctxCancel,
		ctx:         browserCtx,
		uploadURL:   uploadURL,
	}, nil
}

func (a *chromeAutomator) LoadCookies(ctx context.Context, cookies []Cookie) error {
	params := make([]*network.CookieParam, 0, len(cookies))

	for _, c := range cookies {
		params = append(params, &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  network.TimeSinceEpoch(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		})
	}

	if len(params) == 0 {
		return nil
	}

	return chromedp.Run(withTimeout(a.ctx, ctx), network.SetCookies(params))
}

func (a *chromeAutomator) Cookies(ctx context.Context) ([]Cookie, error) {
	var raw []*network.Cookie

	err := chromedp.Run(withTimeout(a.ctx, ctx), chromedp.ActionFunc(func(execCtx context.Context) error {
		var getErr error

		raw, getErr = network.GetCookies().Do(execCtx)

		return getErr
	}))
	if err != nil {
		return nil, fmt.Errorf("uploadicloud: reading cookies: %w", err)
	}

	cookies := make([]Cookie, 0, len(raw))

	for _, c := range raw {
		cookies = append(cookies, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  float64(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		})
	}

	return cookies, nil
}

func (a *chromeAutomator) ReachedPhotosReady(ctx context.Context, timeout time.Duration) bool {
	waitCtx, cancel := context.WithTimeout(a.ctx, timeout)
	defer cancel()

	err := chromedp.Run(waitCtx, chromedp.WaitVisible(photosReadySelector, chromedp.ByQuery))

	return err == nil
}

func (a *chromeAutomator) ResolveFileInput(ctx context.Context, selector string, timeout time.Duration) bool {
	waitCtx, cancel := context.WithTimeout(a.ctx, timeout)
	defer cancel()

	err := chromedp.Run(waitCtx, chromedp.WaitReady(selector, chromedp.ByQuery))

	return err == nil
}

// frameWalkFileInputSelector is the bare control every frame is probed
// for once override and bundled selectors have both failed.
const frameWalkFileInputSelector = `input[type="file"]`

// FrameWalkFileInput searches the top document, then every child iframe,
// for a bare file-input control — the last-resort step of the
// selector-resolution chain (spec §4.9 "(c) a frame-walk").
func (a *chromeAutomator) FrameWalkFileInput(ctx context.Context, timeout time.Duration) (string, bool) {
	waitCtx, cancel := context.WithTimeout(a.ctx, timeout)
	defer cancel()

	if chromedp.Run(waitCtx, chromedp.WaitReady(frameWalkFileInputSelector, chromedp.ByQuery)) == nil {
		return frameWalkFileInputSelector, true
	}

	var frames []*cdp.Node

	if err := chromedp.Run(waitCtx, chromedp.Nodes("iframe", &frames, chromedp.ByQueryAll, chromedp.AtLeast(0))); err != nil {
		return "", false
	}

	for _, frame := range frames {
		err := chromedp.Run(waitCtx, chromedp.WaitReady(frameWalkFileInputSelector, chromedp.ByQuery, chromedp.FromNode(frame)))
		if err == nil {
			return frameWalkFileInputSelector, true
		}
	}

	return "", false
}

func (a *chromeAutomator) ListCandidateSelectors(ctx context.Context) []string {
	var found []string

	for _, sel := range []string{photosReadySelector, `input[type="file"]`, busyIndicatorSelector, progressCompleteSelector} {
		probeCtx, cancel := context.WithTimeout(a.ctx, 500*time.Millisecond)

		if chromedp.Run(probeCtx, chromedp.WaitReady(sel, chromedp.ByQuery)) == nil {
			found = append(found, sel)
		}

		cancel()
	}

	return found
}

func (a *chromeAutomator) UploadFile(ctx context.Context, selector, path string) error {
	return chromedp.Run(withTimeout(a.ctx, ctx), chromedp.SetUploadFiles(selector, []string{path}, chromedp.ByQuery))
}

func (a *chromeAutomator) WaitUploadComplete(ctx context.Context, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(a.ctx, timeout)
	defer cancel()

	err := chromedp.Run(waitCtx,
		chromedp.WaitNotPresent(busyIndicatorSelector, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("uploadicloud: waiting for upload completion: %w", err)
	}

	return nil
}

func (a *chromeAutomator) Close() error {
	a.ctxCancel()
	a.allocCancel()

	return nil
}

func withTimeout(base, caller context.Context) context.Context {
	if deadline, ok := caller.Deadline(); ok {
		ctx, _ := context.WithDeadline(base, deadline) //nolint:govet // cancel owned by caller ctx lifetime
		return ctx
	}

	return base
}
