package portal

import (
	"context"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/outlier-data/fondos-etl/internal/ingest"
	"github.com/outlier-data/fondos-etl/internal/sanitize"
)

// Listing loads the portal page, expands the full table by clicking the
// "VER MÁS" control until it stops resolving, and returns one SourceRecord
// per listing row. Records carry the portal's own ID, so ledger inserts
// dedup exactly against what the portal publishes.
func (c *Client) Listing(ctx context.Context) ([]ingest.SourceRecord, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	page, err := c.browser.Page(proto.TargetCreateTarget{URL: c.cfg.ListingURL})
	if err != nil {
		return nil, eris.Wrapf(err, "portal: open listing %s", c.cfg.ListingURL)
	}
	page = page.Context(ctx)
	defer page.Close() //nolint:errcheck

	if err := page.WaitLoad(); err != nil {
		return nil, eris.Wrap(err, "portal: wait for listing load")
	}

	// Each click appends a chunk of older rows; the control disappears once
	// everything is shown.
	for {
		el, err := page.Timeout(3 * time.Second).Element(c.cfg.ExpandSelector)
		if err != nil {
			break
		}
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			break
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	rows, err := page.Elements("table tr")
	if err != nil {
		return nil, eris.Wrap(err, "portal: find listing table")
	}
	if len(rows) == 0 {
		return nil, eris.New("portal: listing page has no table rows")
	}

	var recs []ingest.SourceRecord

	for _, row := range rows[1:] { // first row is the header
		cells, err := row.Elements("td")
		if err != nil || len(cells) != 4 {
			continue
		}

		rec, err := c.listingRecord(cells)
		if err != nil {
			c.log.Warn("skipping malformed listing row", zap.Error(err))
			continue
		}
		if rec != nil {
			recs = append(recs, *rec)
		}
	}

	return recs, nil
}

func (c *Client) listingRecord(cells rod.Elements) (*ingest.SourceRecord, error) {
	id, err := cells[3].Text()
	if err != nil {
		return nil, eris.Wrap(err, "portal: read listing id cell")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil // separator or placeholder row
	}

	desc, err := cells[2].Text()
	if err != nil {
		return nil, eris.Wrap(err, "portal: read description cell")
	}
	desc = strings.TrimSpace(desc)

	recvText, err := cells[1].Text()
	if err != nil {
		return nil, eris.Wrap(err, "portal: read reception cell")
	}
	receivedAt, err := sanitize.ParseSpanishDateTime(strings.TrimSpace(recvText))
	if err != nil {
		return nil, eris.Wrapf(err, "portal: listing %s", id)
	}

	var href string
	if has, a, err := cells[0].Has("a"); err == nil && has {
		if attr, err := a.Attribute("href"); err == nil && attr != nil {
			href = strings.TrimSpace(*attr)
		}
	}

	rec := &ingest.SourceRecord{
		ID:               id,
		ReceivedAt:       receivedAt,
		CorrespondsDate:  descriptionAsOf(desc),
		Description:      desc,
		DownloadLocation: href,
	}
	return rec, nil
}

// descriptionAsOf pulls the as-of date out of descriptions shaped like
// "... al 28 jun. 2024". Missing or unparseable yields nil; the record is
// still tracked and the date can be recovered from the file itself.
func descriptionAsOf(desc string) *time.Time {
	idx := strings.LastIndex(desc, " al")
	if idx < 0 {
		return nil
	}
	t, err := sanitize.ParseSpanishDate(strings.TrimSpace(desc[idx+len(" al"):]))
	if err != nil {
		return nil
	}
	return &t
}
