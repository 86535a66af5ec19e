package worker

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// renderSectionPage 在无头 Chromium 里打开前端的区块快照页并等待渲染完毕。
// preReadyScript 在页面 load 后、渲染信号前执行，用于注入布局数据。
func renderSectionPage(logger *slog.Logger, targetURL string, preReadyScript string) (_ *rod.Page, cleanup func(), err error) {
	cleanup = func() {}

	logger.Info("Worker: Navigating to frontend snapshot page...", slog.String("url", targetURL))

	launch := launcher.New().
		Headless(true).
		NoSandbox(true)
	defer func() {
		if err != nil {
			launch.Cleanup()
		}
	}()

	if path, ok := launcher.LookPath(); ok {
		launch = launch.Bin(path)
	}

	browserURL, err := launch.Launch()
	if err != nil {
		return nil, cleanup, fmt.Errorf("launch chromium: %w", err)
	}

	browser := rod.New().ControlURL(browserURL).Timeout(90 * time.Second)
	if err := browser.Connect(); err != nil {
		return nil, cleanup, fmt.Errorf("connect browser: %w", err)
	}

	page := browser.MustPage(targetURL)
	cleanup = func() {
		if page != nil {
			_ = page.Close()
		}
		_ = browser.Close()
		launch.Cleanup()
	}

	page.MustWaitLoad()

	if strings.TrimSpace(preReadyScript) != "" {
		logger.Info("Worker: Injecting layout data before render...")
		if _, evalErr := page.Timeout(10 * time.Second).Eval(preReadyScript); evalErr != nil {
			return nil, cleanup, fmt.Errorf("inject layout data: %w", evalErr)
		}
	}

	logger.Info("Worker: Waiting for frontend render signal (#section-render-ready)...")
	page.Timeout(30 * time.Second).MustElement("#section-render-ready")

	// 额外等待 WebFont/系统字体就绪，避免回退字体度量导致排版差异
	logger.Info("Worker: Waiting for document.fonts.ready...")
	if _, evalErr := page.Timeout(5 * time.Second).Eval(`() => {
	  if (document && document.fonts && document.fonts.ready) {
	    return Promise.race([
	      document.fonts.ready.then(() => true),
	      new Promise((resolve) => setTimeout(() => resolve(true), 3000))
	    ]);
	  }
	  return true;
	}`); evalErr != nil {
		logger.Warn("Worker: document.fonts.ready wait failed, continue", slog.Any("error", evalErr))
	}
	logger.Info("Worker: Render signal received.")

	// 隐藏开发期悬浮层，快照里不应出现调试角标。
	page.MustEval(`() => {
  const sels = [
    '#nextjs-devtools',
    '[data-nextjs-devtools]',
    '#__next-build-watcher',
    '#__next-build-indicator',
    '#__next-route-announcer',
    'nextjs-portal',
    '#nextjs-portal',
    'div[id^="__next_dev_"]'
  ];
  for (const s of sels) document.querySelectorAll(s).forEach(n => n.remove());
}`)

	page.MustWaitIdle()
	return page, cleanup, nil
}

// captureSectionScreenshot 优先截取区块根元素，失败时退回整页截图。
func captureSectionScreenshot(page *rod.Page, quality int) ([]byte, error) {
	element, err := page.Timeout(5 * time.Second).Element("#section-root")
	if err == nil {
		if data, shotErr := element.Screenshot(proto.PageCaptureScreenshotFormatJpeg, quality); shotErr == nil {
			return data, nil
		}
	}

	req := &proto.PageCaptureScreenshot{
		Format:  proto.PageCaptureScreenshotFormatJpeg,
		Quality: intPtr(quality),
	}
	data, err := page.Screenshot(true, req)
	if err != nil {
		return nil, fmt.Errorf("page screenshot: %w", err)
	}
	return data, nil
}

func intPtr(value int) *int {
	return &value
}
