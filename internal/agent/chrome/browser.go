package chrome

import (
	"context"
	"fmt"
	"strconv"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/spigell/auto-applier/internal/logger"
	"go.uber.org/zap"
)

// markScript tags interactive elements with a stable id so the model can
// address them. Live form values are copied into an attribute because
// typed text never reaches the value attribute of the serialized DOM.
const markScript = `(() => {
	let i = 0;
	document.querySelectorAll('input, textarea, select, button, a[href], [role="button"], [contenteditable="true"]').forEach(el => {
		const r = el.getBoundingClientRect();
		const visible = el.type === 'file' || (r.width > 0 && r.height > 0);
		el.setAttribute('` + elementAttr + `', String(i++));
		el.setAttribute('` + visibleAttr + `', visible ? '1' : '0');
		if (el.tagName === 'SELECT') {
			const o = el.options[el.selectedIndex];
			el.setAttribute('` + valueAttr + `', o ? o.text : '');
		} else if (el.type === 'checkbox' || el.type === 'radio') {
			el.setAttribute('` + valueAttr + `', el.checked ? 'checked' : '');
		} else if ((el.tagName === 'INPUT' || el.tagName === 'TEXTAREA') && el.type !== 'password' && el.type !== 'file') {
			el.setAttribute('` + valueAttr + `', el.value);
		}
	});
	return i;
})()`

// Options configures the Chrome instance.
type Options struct {
	ExecPath         string
	UserDataDir      string
	ProfileDirectory string
	Headless         bool
}

// Browser drives a Chrome tab over the DevTools protocol.
type Browser struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
}

// NewBrowser starts Chrome with the configured profile. Close must be called.
func NewBrowser(ctx context.Context, opts Options, log *zap.Logger) (*Browser, error) {
	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	allocOpts = append(allocOpts,
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-extensions", true),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	if opts.UserDataDir != "" {
		allocOpts = append(allocOpts, chromedp.UserDataDir(opts.UserDataDir))
	}
	if opts.ProfileDirectory != "" {
		allocOpts = append(allocOpts, chromedp.Flag("profile-directory", opts.ProfileDirectory))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	// starts the browser
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("starting browser: %w", err)
	}

	b := &Browser{
		ctx: tabCtx,
		cancel: func() {
			tabCancel()
			allocCancel()
		},
		logger: logger.WithComponent(log, "browser"),
	}

	chromedp.ListenTarget(tabCtx, b.onEvent)

	return b, nil
}

// onEvent accepts javascript dialogs (confirm, beforeunload) that would
// otherwise block every further action on the tab.
func (b *Browser) onEvent(ev any) {
	dialog, ok := ev.(*page.EventJavascriptDialogOpening)
	if !ok {
		return
	}

	b.logger.Info("accepting javascript dialog",
		zap.String("type", string(dialog.Type)),
		zap.String("message", dialog.Message),
	)

	// listeners must not block the event loop
	go func() {
		if err := chromedp.Run(b.ctx, page.HandleJavaScriptDialog(true)); err != nil {
			b.logger.Warn("accepting javascript dialog failed", zap.Error(err))
		}
	}()
}

// Close stops the browser.
func (b *Browser) Close() {
	b.cancel()
}

// run executes actions on the tab, aborting when ctx is done.
func (b *Browser) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(b.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

func (b *Browser) Navigate(ctx context.Context, url string) error {
	b.logger.Debug("navigate", zap.String("url", url))
	return b.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

func (b *Browser) Snapshot(ctx context.Context) (*Page, error) {
	var (
		count int
		html  string
		url   string
		title string
	)
	err := b.run(ctx,
		chromedp.Evaluate(markScript, &count),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.Location(&url),
		chromedp.Title(&title),
	)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	b.logger.Debug("snapshot", zap.String("url", url), zap.Int("elements", count))
	return parsePage(url, title, html)
}

func (b *Browser) Fill(ctx context.Context, id, value string) error {
	sel := selectorFor(id)
	return b.run(ctx,
		chromedp.ScrollIntoView(sel, chromedp.ByQuery),
		chromedp.Clear(sel, chromedp.ByQuery),
		chromedp.SendKeys(sel, value, chromedp.ByQuery),
	)
}

func (b *Browser) Click(ctx context.Context, id string) error {
	sel := selectorFor(id)
	return b.run(ctx,
		chromedp.ScrollIntoView(sel, chromedp.ByQuery),
		chromedp.Click(sel, chromedp.ByQuery),
	)
}

func (b *Browser) Select(ctx context.Context, id, option string) error {
	sel := selectorFor(id)
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return false;
		const want = %s.trim().toLowerCase();
		for (const opt of el.options) {
			if (opt.value.toLowerCase() === want || opt.text.trim().toLowerCase() === want) {
				el.value = opt.value;
				el.dispatchEvent(new Event('input', {bubbles: true}));
				el.dispatchEvent(new Event('change', {bubbles: true}));
				return true;
			}
		}
		return false;
	})()`, strconv.Quote(sel), strconv.Quote(option))

	var ok bool
	if err := b.run(ctx, chromedp.Evaluate(script, &ok)); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("option %q not found in element %s", option, id)
	}
	return nil
}

func (b *Browser) Upload(ctx context.Context, id, path string) error {
	sel := selectorFor(id)
	return b.run(ctx, chromedp.SetUploadFiles(sel, []string{path}, chromedp.ByQuery))
}
