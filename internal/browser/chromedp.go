package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// chromedpSession drives one headless Chrome process through chromedp. The
// allocator owns the process, the browser context owns the shared browsing
// context, and each render opens a short-lived tab scoped to it.
type chromedpSession struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	navTimeout    time.Duration
	quality       int
	userAgent     string
}

func launchChromedp(cfg Config) (session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.UserAgent(cfg.UserAgent),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Warm up so a launch failure surfaces here instead of on first render.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	return &chromedpSession{
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		navTimeout:    cfg.NavigationTimeout,
		quality:       cfg.Quality,
		userAgent:     cfg.UserAgent,
	}, nil
}

func (s *chromedpSession) render(ctx context.Context, url string) ([]byte, error) {
	tabCtx, cancelTab := chromedp.NewContext(s.browserCtx)
	defer cancelTab()

	taskCtx, cancelTask := context.WithTimeout(tabCtx, s.navTimeout)
	defer cancelTask()

	stop := context.AfterFunc(ctx, cancelTask)
	defer stop()

	var buf []byte
	actions := []chromedp.Action{
		s.networkSetupAction(),
		chromedp.EmulateViewport(1920, 1080),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.FullScreenshot(&buf, s.quality),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return nil, fmt.Errorf("chromedp run: %w", err)
	}
	return buf, nil
}

func (s *chromedpSession) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if s.userAgent != "" {
			if err := emulation.SetUserAgentOverride(s.userAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// close tears down the browsing context, then the browser, then the
// allocator. A graceful browser close failure must not prevent the
// allocator teardown from killing the process.
func (s *chromedpSession) close() error {
	err := chromedp.Cancel(s.browserCtx)
	s.browserCancel()
	s.allocCancel()
	if err != nil {
		return fmt.Errorf("close browser context: %w", err)
	}
	return nil
}
