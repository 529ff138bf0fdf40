// Package capture screenshots the rendered widget with headless Chromium.
package capture

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

const (
	DefaultWidth   = 800
	DefaultHeight  = 1000
	DefaultTimeout = 30 * time.Second

	// ReadySelector matches the widget root once data has loaded.
	ReadySelector = `.volunteer-widget[data-ready="true"]`
)

// Options defines one screenshot.
type Options struct {
	// URL of the page hosting the widget, e.g. "http://127.0.0.1:8080/".
	URL string

	// OutputPath receives the PNG. Parent directories are created.
	OutputPath string

	// Width and Height are the viewport size in pixels; zero means default.
	Width  int
	Height int

	// Timeout bounds the whole capture.
	Timeout time.Duration

	// Username and Password, when set, are sent as HTTP basic auth.
	Username string
	Password string
}

func (o *Options) normalize() error {
	if o.URL == "" {
		return errors.New("capture: URL is required")
	}
	if o.OutputPath == "" {
		return errors.New("capture: OutputPath is required")
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return nil
}

// WidgetPNG navigates to opts.URL, waits until the widget reports
// data-ready="true" and writes a full-page PNG screenshot.
func WidgetPNG(parentCtx context.Context, opts Options) error {
	if err := opts.normalize(); err != nil {
		return err
	}

	ctx, cancel := chromedp.NewContext(parentCtx)
	defer cancel()
	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	var png []byte
	if err := chromedp.Run(ctx, tasks(opts, &png)); err != nil {
		return fmt.Errorf("capture: chromedp run failed: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(opts.OutputPath), 0o755); err != nil {
		return fmt.Errorf("capture: create output dir: %w", err)
	}
	if err := os.WriteFile(opts.OutputPath, png, 0o644); err != nil {
		return fmt.Errorf("capture: failed to write PNG: %w", err)
	}
	return nil
}

func tasks(opts Options, png *[]byte) chromedp.Tasks {
	t := chromedp.Tasks{
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
	}
	if opts.Username != "" {
		t = append(t,
			network.Enable(),
			network.SetExtraHTTPHeaders(network.Headers{"Authorization": basicAuth(opts.Username, opts.Password)}),
		)
	}
	return append(t,
		chromedp.Navigate(opts.URL),
		chromedp.WaitVisible(ReadySelector, chromedp.ByQuery),
		// Let fonts and the last layout pass settle.
		chromedp.Sleep(300*time.Millisecond),
		chromedp.FullScreenshot(png, 100),
	)
}

func basicAuth(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}
