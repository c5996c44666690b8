package inbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQuery(t *testing.T) {
	f, err := ParseQuery("from:SMBC.co.jp subject:三井住友銀行 newer_than:1d is:unread 入金")
	require.NoError(t, err)

	assert.Equal(t, []string{"smbc.co.jp"}, f.From)
	assert.Equal(t, []string{"三井住友銀行"}, f.Subject)
	assert.Equal(t, []string{"入金"}, f.Terms)
	assert.Equal(t, 24*time.Hour, f.NewerThan)
	assert.True(t, f.UnreadOnly)
}

func TestParseQuery_Errors(t *testing.T) {
	_, err := ParseQuery("newer_than:xd")
	assert.Error(t, err)

	_, err = ParseQuery("is:starred")
	assert.Error(t, err)
}

func TestFilter_Matches(t *testing.T) {
	now := time.Date(2025, 1, 16, 9, 0, 0, 0, time.UTC)
	f, err := ParseQuery("from:rakuten-sec.co.jp subject:約定 newer_than:1d is:unread")
	require.NoError(t, err)

	base := Message{
		From:       "tradesys@rakuten-sec.co.jp",
		Subject:    "【楽天証券】約定のお知らせ",
		ReceivedAt: now.Add(-2 * time.Hour),
		Unread:     true,
	}
	assert.True(t, f.Matches(&base, now))

	read := base
	read.Unread = false
	assert.False(t, f.Matches(&read, now))

	old := base
	old.ReceivedAt = now.Add(-48 * time.Hour)
	assert.False(t, f.Matches(&old, now))

	other := base
	other.From = "alert@sbisec.co.jp"
	assert.False(t, f.Matches(&other, now))
}

func TestMessage_Key(t *testing.T) {
	assert.Equal(t, "mid:abc@example.com", (&Message{ID: "1", HeaderID: "abc@example.com"}).Key())
	assert.Equal(t, "id:1", (&Message{ID: "1"}).Key())
}

func TestMemoryMailbox_SearchKeepsNewestInOrder(t *testing.T) {
	now := time.Date(2025, 1, 16, 9, 0, 0, 0, time.UTC)
	mb := NewMemoryMailbox(
		&Message{ID: "c", Subject: "約定 C", ReceivedAt: now.Add(-1 * time.Hour), Unread: true},
		&Message{ID: "a", Subject: "約定 A", ReceivedAt: now.Add(-3 * time.Hour), Unread: true},
		&Message{ID: "b", Subject: "約定 B", ReceivedAt: now.Add(-2 * time.Hour), Unread: true},
		&Message{ID: "d", Subject: "お知らせ", ReceivedAt: now.Add(-2 * time.Hour), Unread: true},
	)
	mb.SetClock(func() time.Time { return now })

	got, err := mb.Search(context.Background(), Query{Raw: "subject:約定 is:unread", MaxItems: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "c", got[1].ID)
}

func TestMemoryMailbox_MarkProcessed(t *testing.T) {
	mb := NewMemoryMailbox(&Message{ID: "a", Subject: "約定", Unread: true, ReceivedAt: time.Now()})
	ctx := context.Background()

	require.NoError(t, mb.MarkProcessed(ctx, "a"))
	require.NoError(t, mb.MarkProcessed(ctx, "a"))
	assert.ErrorIs(t, mb.MarkProcessed(ctx, "missing"), ErrMessageNotFound)

	got, err := mb.Search(ctx, Query{Raw: "is:unread"})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, []string{"a", "a"}, mb.Marked())
}
