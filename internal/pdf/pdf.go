// Package pdf renders self-contained HTML documents to paginated PDF
// through a shared headless browser. The browser process is lazily started
// on first export and reused; each export runs in its own short-lived tab
// that is always closed, on success and failure alike.
package pdf

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/brightpath-advice/advicegen/internal/config"
)

// Exporter owns the shared browser resource.
type Exporter struct {
	cfg config.PDFConfig

	mu          sync.Mutex
	allocCancel context.CancelFunc
	browserCtx  context.Context
	browserStop context.CancelFunc
}

// NewExporter creates an exporter. The browser is not started until the
// first Export call.
func NewExporter(cfg config.PDFConfig) *Exporter {
	return &Exporter{cfg: cfg}
}

// browser returns the shared browser context, starting the process if
// needed.
func (e *Exporter) browser() (context.Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.browserCtx != nil && e.browserCtx.Err() == nil {
		return e.browserCtx, nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserStop := chromedp.NewContext(allocCtx)

	// Start the process now so a broken environment fails here, not midway
	// through an export.
	if err := chromedp.Run(browserCtx); err != nil {
		browserStop()
		allocCancel()
		return nil, eris.Wrap(err, "pdf: start headless browser")
	}

	e.allocCancel = allocCancel
	e.browserCtx = browserCtx
	e.browserStop = browserStop
	zap.L().Info("headless browser started")
	return browserCtx, nil
}

// Export renders html to a PDF file under the configured output directory
// and returns the file path. The html must be self-contained: checkStructure
// rejects documents that would render blank or rely on network fetches.
func (e *Exporter) Export(ctx context.Context, documentID, html string) (string, error) {
	if e.cfg.AssetsDir != "" {
		html = InlineImages(html, e.cfg.AssetsDir)
	}
	if err := checkStructure(html); err != nil {
		return "", err
	}

	browserCtx, err := e.browser()
	if err != nil {
		return "", err
	}

	// One tab per export, always released.
	tabCtx, closeTab := chromedp.NewContext(browserCtx)
	defer closeTab()

	tabCtx, cancel := context.WithTimeout(tabCtx, e.cfg.Timeout())
	defer cancel()

	// Propagate caller cancellation into the tab.
	go func() {
		select {
		case <-ctx.Done():
			closeTab()
		case <-tabCtx.Done():
		}
	}()

	var pdfBytes []byte
	err = chromedp.Run(tabCtx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			frameTree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(frameTree.Frame.ID, html).Do(ctx)
		}),
		chromedp.Sleep(100*time.Millisecond),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			pdfBytes, _, err = page.PrintToPDF().
				WithPrintBackground(true).
				WithPreferCSSPageSize(true).
				Do(ctx)
			return err
		}),
	)
	if err != nil {
		return "", eris.Wrapf(err, "pdf: render document %s", documentID)
	}

	if err := os.MkdirAll(e.cfg.OutputDir, 0o755); err != nil {
		return "", eris.Wrap(err, "pdf: create output dir")
	}
	path := filepath.Join(e.cfg.OutputDir, documentID+".pdf")
	if err := os.WriteFile(path, pdfBytes, 0o644); err != nil {
		return "", eris.Wrapf(err, "pdf: write %s", path)
	}

	zap.L().Info("pdf exported", zap.String("document_id", documentID), zap.Int("bytes", len(pdfBytes)))
	return path, nil
}

// checkStructure verifies the structural invariants an exportable document
// must hold. Violations abort the export before a browser tab is opened.
func checkStructure(html string) error {
	trimmed := strings.TrimSpace(html)
	if trimmed == "" {
		return eris.New("pdf: empty document")
	}
	lower := strings.ToLower(trimmed)
	if !strings.Contains(lower, "<body") {
		return eris.New("pdf: document has no body element")
	}
	// External references would trigger network fetches during render;
	// documents must arrive with assets inlined.
	if strings.Contains(lower, `src="http://`) || strings.Contains(lower, `src="https://`) {
		return eris.New("pdf: document references remote assets; images must be inlined")
	}
	return nil
}

// Shutdown releases the shared browser. Safe to call when the browser was
// never started.
func (e *Exporter) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.browserCtx == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		e.browserStop()
		e.allocCancel()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "pdf: shutdown")
	}

	e.browserCtx = nil
	e.browserStop = nil
	e.allocCancel = nil
	zap.L().Info("headless browser stopped")
	return nil
}
