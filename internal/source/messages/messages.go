// Package messages reads iMessage and SMS history from the macOS Messages
// database (chat.db). It only works on the machine that owns the database.
package messages

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MikeSquared-Agency/replyclock/internal/message"
)

// chat.style for group conversations; one-to-one chats use 45.
const groupChatStyle = 43

// macEpoch is the zero of Apple's absolute time.
var macEpoch = time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

// Rows written before High Sierra store seconds; later rows store nanoseconds.
const legacySecondsLimit = 100_000_000_000

const query = `
SELECT m.ROWID, m.date, m.is_from_me, c.chat_identifier, c.service_name, c.style, h.id
FROM message m
JOIN chat_message_join cmj ON m.ROWID = cmj.message_id
JOIN chat c ON cmj.chat_id = c.ROWID
LEFT JOIN handle h ON m.handle_id = h.ROWID
WHERE m.date > 0
  AND ((m.date >= ? AND m.date <= ?) OR (m.date >= ? AND m.date <= ?))
ORDER BY c.chat_identifier, m.date ASC`

type Options struct {
	Path          string
	IncludeGroups bool
}

// Reader implements source.Adapter over a local chat.db.
type Reader struct {
	opts   Options
	logger *slog.Logger
}

func NewReader(opts Options, logger *slog.Logger) *Reader {
	return &Reader{opts: opts, logger: logger}
}

func (r *Reader) Channel() message.Channel { return message.ChannelMessages }

// Fetch returns every message, including tapback reactions, dated in [start, end].
func (r *Reader) Fetch(ctx context.Context, start, end time.Time) ([]message.Message, error) {
	db, err := Open(r.opts.Path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, query,
		toMacNanos(start), toMacNanos(end),
		toMacSeconds(start), toMacSeconds(end),
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []message.Message
	groups := 0
	for rows.Next() {
		var (
			rowID    int64
			date     int64
			isFromMe bool
			chatID   sql.NullString
			service  sql.NullString
			style    sql.NullInt64
			handle   sql.NullString
		)
		if err := rows.Scan(&rowID, &date, &isFromMe, &chatID, &service, &style, &handle); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}

		if style.Valid && style.Int64 == groupChatStyle && !r.opts.IncludeGroups {
			groups++
			continue
		}

		msg := message.Message{
			ID:           strconv.FormatInt(rowID, 10),
			Source:       sourceFor(service.String),
			Direction:    message.Received,
			Timestamp:    FromMacTime(date),
			ThreadKey:    NormalizeHandle(chatID.String),
			Counterparty: NormalizeHandle(handle.String),
		}
		if isFromMe {
			msg.Direction = message.Sent
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	r.logger.Info("messages fetch complete", "messages", len(out), "group_rows_skipped", groups)
	return out, nil
}

// Open opens chat.db read-only.
func Open(path string) (*sql.DB, error) {
	dsn := "file:" + path + "?mode=ro"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open messages db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open messages db %s (grant Full Disk Access to the terminal): %w", path, err)
	}
	return db, nil
}

// FromMacTime converts a chat.db date column to UTC.
func FromMacTime(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	if v < legacySecondsLimit {
		return macEpoch.Add(time.Duration(v) * time.Second)
	}
	return macEpoch.Add(time.Duration(v))
}

func toMacNanos(t time.Time) int64 {
	return t.Sub(macEpoch).Nanoseconds()
}

func toMacSeconds(t time.Time) int64 {
	s := int64(t.Sub(macEpoch) / time.Second)
	if s >= legacySecondsLimit {
		s = legacySecondsLimit - 1
	}
	return s
}

func sourceFor(service string) message.Source {
	switch strings.ToLower(service) {
	case "imessage":
		return message.SourceIMessage
	case "sms", "rcs":
		return message.SourceSMS
	default:
		return ""
	}
}

// NormalizeHandle canonicalises a phone number or address so the same
// counterparty always yields the same key. Phone numbers keep only a leading
// plus and digits; anything else is lowercased.
func NormalizeHandle(h string) string {
	h = strings.TrimSpace(h)
	if h == "" || strings.Contains(h, "@") || !isPhone(h) {
		return strings.ToLower(h)
	}

	var sb strings.Builder
	for i, r := range h {
		switch {
		case r == '+' && i == 0:
			sb.WriteRune(r)
		case r >= '0' && r <= '9':
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func isPhone(h string) bool {
	digits := 0
	for _, r := range h {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case strings.ContainsRune("+-() .", r):
		default:
			return false
		}
	}
	return digits > 0
}
