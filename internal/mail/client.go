// Package mail is the FIMA mailbox transport: it finds the daily summary
// emails, saves their spreadsheet attachment durably, and archives messages
// once the pipeline has loaded them. All parsing of the attachment itself
// belongs to the core packages.
package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	gomail "github.com/emersion/go-message/mail"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/outlier-data/fondos-etl/internal/config"
	"github.com/outlier-data/fondos-etl/internal/ingest"
	"github.com/outlier-data/fondos-etl/internal/sanitize"
)

// Delivery is one mailbox message turned into a ledger-ready source record
// plus its durably saved attachment. Messages are addressed by UID: archiving
// expunges, and sequence numbers of the remaining messages shift under an
// expunge while UIDs stay stable for the life of the mailbox.
type Delivery struct {
	Record ingest.SourceRecord
	Path   string
	UID    imap.UID
}

// Client wraps an IMAP session against the monitored mailbox.
type Client struct {
	cfg  config.MailConfig
	imap *imapclient.Client
	log  *zap.Logger
}

// Connect dials the configured server over TLS, logs in, and selects the
// inbox.
func Connect(cfg config.MailConfig) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Server, cfg.Port)

	c, err := imapclient.DialTLS(addr, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "mail: dial %s", addr)
	}

	if err := c.Login(cfg.User, cfg.Password).Wait(); err != nil {
		_ = c.Close()
		return nil, eris.Wrapf(err, "mail: login as %s", cfg.User)
	}

	if _, err := c.Select(cfg.Mailbox, nil).Wait(); err != nil {
		_ = c.Close()
		return nil, eris.Wrapf(err, "mail: select %s", cfg.Mailbox)
	}

	return &Client{
		cfg:  cfg,
		imap: c,
		log:  zap.L().With(zap.String("component", "mail")),
	}, nil
}

// Close logs out and closes the connection.
func (c *Client) Close() error {
	if err := c.imap.Logout().Wait(); err != nil {
		return c.imap.Close()
	}
	// Logout already tore the connection down; closing again reports a
	// connection-closed error that is not the caller's problem.
	_ = c.imap.Close()
	return nil
}

// FetchNew finds messages from the configured sender, saves each message's
// spreadsheet attachment under the attachment directory, and returns one
// Delivery per usable message. Messages without exactly one spreadsheet
// attachment are skipped with a transport warning and remain in the inbox.
func (c *Client) FetchNew(ctx context.Context) ([]Delivery, error) {
	criteria := &imap.SearchCriteria{
		Header: []imap.SearchCriteriaHeaderField{
			{Key: "From", Value: c.cfg.FromAddress},
		},
	}

	searchData, err := c.imap.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, eris.Wrapf(err, "mail: search from %s", c.cfg.FromAddress)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	if err := os.MkdirAll(c.cfg.AttachDir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "mail: create attachment dir %s", c.cfg.AttachDir)
	}

	bodySection := &imap.FetchItemBodySection{}
	fetchOptions := &imap.FetchOptions{
		Envelope:     true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{bodySection},
	}

	var deliveries []Delivery

	for _, uid := range uids {
		if ctx.Err() != nil {
			return deliveries, ctx.Err()
		}

		msgs, err := c.imap.Fetch(imap.UIDSetNum(uid), fetchOptions).Collect()
		if err != nil {
			return deliveries, eris.Wrapf(err, "mail: fetch message %d", uid)
		}
		if len(msgs) == 0 {
			continue
		}
		msg := msgs[0]

		d, err := c.buildDelivery(uid, msg, bodySection)
		if err != nil {
			var te *ingest.TransportError
			if errors.As(err, &te) {
				c.log.Warn("skipping message", zap.Uint32("uid", uint32(uid)), zap.Error(err))
				continue
			}
			return deliveries, err
		}

		deliveries = append(deliveries, *d)
	}

	return deliveries, nil
}

func (c *Client) buildDelivery(uid imap.UID, msg *imapclient.FetchMessageBuffer, section *imap.FetchItemBodySection) (*Delivery, error) {
	raw := msg.FindBodySection(section)
	if raw == nil {
		return nil, &ingest.TransportError{Reason: fmt.Sprintf("message %d has no body", uid)}
	}

	subject := ""
	receivedAt := msg.InternalDate
	if msg.Envelope != nil {
		subject = msg.Envelope.Subject
		if !msg.Envelope.Date.IsZero() {
			receivedAt = msg.Envelope.Date
		}
	}

	name, data, err := spreadsheetAttachment(raw)
	if err != nil {
		return nil, err
	}

	// The subject carries the as-of date; the data may correspond to a
	// different day than the email's receipt.
	token := sanitize.SubjectDateToken(subject)
	var corresponds *time.Time
	if token != "" {
		if t, err := sanitize.ParseDayMonthYear(token); err == nil {
			corresponds = &t
		} else {
			c.log.Warn("unparseable subject date token",
				zap.String("subject", subject), zap.String("token", token))
		}
	}

	fileName := fmt.Sprintf("%s_%s_%s", receivedAt.Format("20060102_15-04-05"), name, token)
	path := filepath.Join(c.cfg.AttachDir, fileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, eris.Wrapf(err, "mail: save attachment %s", path)
	}

	return &Delivery{
		Record: ingest.SourceRecord{
			ID:               uuid.NewString(),
			ReceivedAt:       receivedAt,
			CorrespondsDate:  corresponds,
			Description:      subject,
			DownloadLocation: path,
		},
		Path: path,
		UID:  uid,
	}, nil
}

// spreadsheetAttachment extracts the message's single spreadsheet attachment.
// Zero or multiple spreadsheets is a transport failure, never silently
// resolved by picking one.
func spreadsheetAttachment(raw []byte) (string, []byte, error) {
	mr, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return "", nil, eris.Wrap(err, "mail: parse message")
	}

	var name string
	var data []byte
	count := 0

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", nil, eris.Wrap(err, "mail: read message part")
		}

		h, ok := part.Header.(*gomail.AttachmentHeader)
		if !ok {
			continue
		}
		filename, err := h.Filename()
		if err != nil || filename == "" {
			continue
		}
		lower := strings.ToLower(filename)
		if !strings.HasSuffix(lower, ".xls") && !strings.HasSuffix(lower, ".xlsx") {
			continue
		}

		count++
		if count > 1 {
			continue
		}
		name = filename
		data, err = io.ReadAll(part.Body)
		if err != nil {
			return "", nil, eris.Wrapf(err, "mail: read attachment %s", filename)
		}
	}

	if count != 1 {
		return "", nil, &ingest.TransportError{
			Reason: fmt.Sprintf("expected exactly one spreadsheet attachment, found %d", count),
		}
	}

	return name, data, nil
}

// Archive moves a processed message to the archive folder: copy, flag
// deleted, expunge. Addressing is strictly by UID: the expunge renumbers
// every later message's sequence number, so archiving by sequence would hit
// the wrong message from the second delivery of a run onward.
func (c *Client) Archive(uid imap.UID) error {
	uidSet := imap.UIDSetNum(uid)

	if _, err := c.imap.Copy(uidSet, c.cfg.ArchiveFolder).Wait(); err != nil {
		return eris.Wrapf(err, "mail: copy message %d to %s", uid, c.cfg.ArchiveFolder)
	}

	storeFlags := &imap.StoreFlags{
		Op:    imap.StoreFlagsAdd,
		Flags: []imap.Flag{imap.FlagDeleted},
	}
	if err := c.imap.Store(uidSet, storeFlags, nil).Close(); err != nil {
		return eris.Wrapf(err, "mail: flag message %d deleted", uid)
	}

	if err := c.imap.Expunge().Close(); err != nil {
		return eris.Wrapf(err, "mail: expunge after archiving %d", uid)
	}

	return nil
}
