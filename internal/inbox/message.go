// Package inbox reads unsubscribe links out of saved email messages so they
// can be fed to the runner.
package inbox

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// Message is the subset of an RFC 5322 message the link extractor needs.
type Message struct {
	MessageID  string
	From       string
	FromDomain string
	Subject    string
	Date       time.Time

	// ListUnsubscribe is the raw List-Unsubscribe header.
	ListUnsubscribe string
	// OneClick is set when List-Unsubscribe-Post requests RFC 8058
	// one-click unsubscription.
	OneClick bool

	Body     string
	HTMLBody string
}

// ParseFile parses the message stored at path (an .eml file).
func ParseFile(path string) (*Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open message: %w", err)
	}
	defer f.Close()
	return ParseMessage(f)
}

// ParseMessage reads headers and the first text/plain and text/html parts.
// Parts in unknown charsets are kept undecoded.
func ParseMessage(r io.Reader) (*Message, error) {
	mr, err := mail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	defer mr.Close()

	msg := &Message{
		ListUnsubscribe: unfold(mr.Header.Get("List-Unsubscribe")),
		OneClick:        strings.Contains(strings.ToLower(mr.Header.Get("List-Unsubscribe-Post")), "list-unsubscribe=one-click"),
	}
	msg.MessageID, _ = mr.Header.MessageID()
	msg.Subject, _ = mr.Header.Subject()
	msg.Date, _ = mr.Header.Date()
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		msg.From = from[0].Address
		if at := strings.LastIndex(msg.From, "@"); at >= 0 {
			msg.FromDomain = strings.ToLower(msg.From[at+1:])
		}
	}

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) {
				continue
			}
			return msg, fmt.Errorf("failed to read message part: %w", err)
		}

		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		body, err := io.ReadAll(p.Body)
		if err != nil {
			return msg, fmt.Errorf("failed to read %s part: %w", ct, err)
		}
		switch {
		case ct == "text/plain" && msg.Body == "":
			msg.Body = string(body)
		case ct == "text/html" && msg.HTMLBody == "":
			msg.HTMLBody = string(body)
		}
	}
	return msg, nil
}

func unfold(v string) string {
	return strings.Join(strings.Fields(v), " ")
}
