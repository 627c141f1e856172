package capture

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
)

// ScreenSource grabs the current screen as a PNG data URI.
type ScreenSource interface {
	Capture(ctx context.Context) (string, error)
	Close() error
}

// DataURI encodes raw image bytes, sniffing the content type.
func DataURI(data []byte) string {
	mime := http.DetectContentType(data)
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURI returns the MIME type and payload of a base64 data URI.
func DecodeDataURI(uri string) (string, []byte, error) {
	if !strings.HasPrefix(uri, "data:") {
		return "", nil, fmt.Errorf("not a data URI")
	}
	meta, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return "", nil, fmt.Errorf("data URI is not base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("invalid data URI payload: %w", err)
	}
	return strings.TrimSuffix(meta, ";base64"), data, nil
}

type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// DesktopScreen grabs the X display with ffmpeg, falling back to scrot.
type DesktopScreen struct {
	Display string
	Dir     string
	run     commandRunner
}

func NewDesktopScreen(display, dir string) *DesktopScreen {
	if display == "" {
		display = ":0.0"
	}
	if dir == "" {
		dir = "screenshots"
	}
	return &DesktopScreen{Display: display, Dir: dir, run: runCommand}
}

func (d *DesktopScreen) Capture(ctx context.Context) (string, error) {
	if err := os.MkdirAll(d.Dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(d.Dir, fmt.Sprintf("desktop_%d.png", time.Now().UnixNano()))
	defer os.Remove(path)

	output, err := d.run(ctx, "ffmpeg", "-loglevel", "error", "-f", "x11grab", "-i", d.Display, "-frames:v", "1", path, "-y")
	if err != nil {
		// Fallback to scrot in case ffmpeg lacks x11grab
		var scrotOut []byte
		scrotOut, err = d.run(ctx, "scrot", "-o", path)
		if err != nil {
			return "", classifyExecError(err, append(output, scrotOut...))
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read desktop capture: %w", err)
	}
	return DataURI(data), nil
}

func (d *DesktopScreen) Close() error { return nil }

// BrowserScreen screenshots a page in a headless Chrome kept open between captures.
type BrowserScreen struct {
	URL string

	mu            sync.Mutex
	browserCtx    context.Context
	allocCancel   context.CancelFunc
	browserCancel context.CancelFunc
	navigated     bool
}

func NewBrowserScreen(url string) *BrowserScreen {
	return &BrowserScreen{URL: url}
}

func (b *BrowserScreen) initBrowser() error {
	if b.browserCtx != nil {
		select {
		case <-b.browserCtx.Done():
			b.cleanup()
		default:
			return nil
		}
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.WindowSize(1920, 1080),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	b.allocCancel = allocCancel
	b.browserCtx, b.browserCancel = chromedp.NewContext(allocCtx)
	b.navigated = false

	return chromedp.Run(b.browserCtx)
}

func (b *BrowserScreen) cleanup() {
	if b.browserCancel != nil {
		b.browserCancel()
	}
	if b.allocCancel != nil {
		b.allocCancel()
	}
	b.browserCtx = nil
	b.browserCancel = nil
	b.allocCancel = nil
}

func (b *BrowserScreen) Capture(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.initBrowser(); err != nil {
		b.cleanup()
		return "", fmt.Errorf("failed to initialize browser: %w", err)
	}

	actionCtx, cancel := context.WithTimeout(b.browserCtx, 60*time.Second)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var actions []chromedp.Action
	if !b.navigated && b.URL != "" {
		actions = append(actions, chromedp.Navigate(b.URL))
	}
	var buf []byte
	actions = append(actions, chromedp.CaptureScreenshot(&buf))

	if err := chromedp.Run(actionCtx, actions...); err != nil {
		return "", fmt.Errorf("browser capture failed: %w", err)
	}
	b.navigated = true
	return DataURI(buf), nil
}

func (b *BrowserScreen) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cleanup()
	return nil
}

var errExecNotFound = errors.New("executable not found")

func classifyExecError(err error, output []byte) error {
	if errors.Is(err, exec.ErrNotFound) {
		return fmt.Errorf("%w: %v", errExecNotFound, err)
	}
	out := strings.TrimSpace(string(output))
	if out == "" {
		return err
	}
	return fmt.Errorf("%v: %s", err, out)
}
