package inbox

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
)

// ParseRFC822 reads a raw mail into an unread Message with a fresh ID.
// Non-UTF-8 charsets such as ISO-2022-JP are decoded.
func ParseRFC822(raw []byte) (*Message, error) {
	m := &Message{
		ID:         uuid.NewString(),
		ReceivedAt: time.Now(),
		Unread:     true,
	}

	reader, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}
	defer reader.Close()

	if subject, err := reader.Header.Subject(); err == nil {
		m.Subject = subject
	}
	if id, err := reader.Header.MessageID(); err == nil {
		m.HeaderID = id
	}
	if date, err := reader.Header.Date(); err == nil && !date.IsZero() {
		m.ReceivedAt = date
	}
	if from, err := reader.Header.AddressList("From"); err == nil && len(from) > 0 {
		m.From = normalizeEmail(from[0].Address)
	}

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return m, fmt.Errorf("read part: %w", err)
		}

		header, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		mediaType, _, _ := header.ContentType()
		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		switch {
		case strings.HasPrefix(mediaType, "text/plain") || mediaType == "":
			m.TextBody = joinPart(m.TextBody, string(body))
		case strings.HasPrefix(mediaType, "text/html"):
			m.HTMLBody = joinPart(m.HTMLBody, string(body))
		}
	}

	return m, nil
}

func joinPart(existing, next string) string {
	if existing == "" {
		return next
	}
	return existing + "\n" + next
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
