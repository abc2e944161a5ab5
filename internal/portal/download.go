package portal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/rotisserie/eris"

	"github.com/outlier-data/fondos-etl/internal/ingest"
)

// Download navigates to a record's page, clicks the download control, and
// waits a fixed interval for the file to land in a fresh temp directory.
// Exactly one downloaded file is expected; zero or several is a
// TransportError and the record is left for the next run. The returned
// cleanup removes the temp directory.
func (c *Client) Download(ctx context.Context, rec ingest.SourceRecord) (string, func(), error) {
	if rec.DownloadLocation == "" {
		return "", nil, &ingest.TransportError{RecordID: rec.ID, Reason: "record has no download location"}
	}

	tempDir, err := os.MkdirTemp("", "fondos-descarga-")
	if err != nil {
		return "", nil, eris.Wrap(err, "portal: create download dir")
	}
	cleanup := func() { _ = os.RemoveAll(tempDir) }

	err = proto.BrowserSetDownloadBehavior{
		Behavior:     proto.BrowserSetDownloadBehaviorBehaviorAllow,
		DownloadPath: tempDir,
	}.Call(c.browser)
	if err != nil {
		cleanup()
		return "", nil, eris.Wrap(err, "portal: set download dir")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		cleanup()
		return "", nil, err
	}

	page, err := c.browser.Page(proto.TargetCreateTarget{URL: rec.DownloadLocation})
	if err != nil {
		cleanup()
		return "", nil, eris.Wrapf(err, "portal: open %s", rec.DownloadLocation)
	}
	page = page.Context(ctx)
	defer page.Close() //nolint:errcheck

	if err := page.WaitLoad(); err != nil {
		cleanup()
		return "", nil, &ingest.TransportError{RecordID: rec.ID, Reason: "page did not load"}
	}
	if err := sleepCtx(ctx, time.Duration(c.cfg.PageWaitSecs)*time.Second); err != nil {
		cleanup()
		return "", nil, err
	}

	link, err := page.Timeout(10 * time.Second).Element(c.cfg.DownloadSelector)
	if err != nil {
		cleanup()
		return "", nil, &ingest.TransportError{RecordID: rec.ID, Reason: "download link not found"}
	}
	if err := link.Click(proto.InputMouseButtonLeft, 1); err != nil {
		cleanup()
		return "", nil, &ingest.TransportError{RecordID: rec.ID, Reason: "could not click download link"}
	}

	// Fixed wait, no backoff: this is a low-frequency daily batch.
	if err := sleepCtx(ctx, time.Duration(c.cfg.DownloadWaitSecs)*time.Second); err != nil {
		cleanup()
		return "", nil, err
	}

	path, err := singleDownload(tempDir, rec.ID)
	if err != nil {
		cleanup()
		return "", nil, err
	}

	return path, cleanup, nil
}

// singleDownload enforces the exactly-one-file contract for a completed
// download directory.
func singleDownload(dir, recordID string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", eris.Wrapf(err, "portal: read download dir %s", dir)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".crdownload") || strings.HasSuffix(name, ".tmp") {
			return "", &ingest.TransportError{RecordID: recordID, Reason: "download did not complete in time"}
		}
		files = append(files, filepath.Join(dir, name))
	}

	if len(files) != 1 {
		return "", &ingest.TransportError{
			RecordID: recordID,
			Reason:   fmt.Sprintf("expected exactly one downloaded file, found %d", len(files)),
		}
	}
	return files[0], nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
