package smtpmail

import (
	"bytes"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"strings"
	"sync/atomic"
	"time"

	"github.com/BearBump/TradeBox/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var boundarySeq atomic.Uint64

func newBoundary() string {
	return fmt.Sprintf("tradebox-%s-%d", uuid.NewString(), boundarySeq.Add(1))
}

// buildMessage собирает multipart/alternative: text/plain и text/html, оба quoted-printable.
func (c *Client) buildMessage(m models.Mail) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	boundary := newBoundary()
	if err := mw.SetBoundary(boundary); err != nil {
		return nil, errors.Wrap(err, "set boundary")
	}

	text := m.Text
	if text == "" {
		text = "This message requires an HTML-capable mail client."
	}
	if err := writePart(mw, "text/plain; charset=UTF-8", text); err != nil {
		return nil, err
	}
	if m.HTML != "" {
		if err := writePart(mw, "text/html; charset=UTF-8", m.HTML); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, errors.Wrap(err, "close multipart")
	}

	from := (&mail.Address{Name: c.cfg.FromName, Address: c.cfg.FromAddress}).String()

	var msg bytes.Buffer
	header := func(k, v string) {
		msg.WriteString(k)
		msg.WriteString(": ")
		msg.WriteString(v)
		msg.WriteString("\r\n")
	}
	header("From", from)
	header("To", m.To)
	header("Subject", mime.QEncoding.Encode("utf-8", m.Subject))
	header("Date", c.now().Format(time.RFC1123Z))
	header("Message-ID", fmt.Sprintf("<%s@%s>", uuid.NewString(), domainOf(c.cfg.FromAddress)))
	header("MIME-Version", "1.0")
	header("Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", boundary))
	msg.WriteString("\r\n")
	msg.Write(body.Bytes())

	return msg.Bytes(), nil
}

func writePart(mw *multipart.Writer, contentType, content string) error {
	pw, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {contentType},
		"Content-Transfer-Encoding": {"quoted-printable"},
	})
	if err != nil {
		return errors.Wrap(err, "create part")
	}
	qw := quotedprintable.NewWriter(pw)
	if _, err := qw.Write([]byte(content)); err != nil {
		return errors.Wrap(err, "write part")
	}
	return errors.Wrap(qw.Close(), "close part")
}

func domainOf(addr string) string {
	if i := strings.LastIndexByte(addr, '@'); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return "localhost"
}
