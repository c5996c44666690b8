package extract

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDateExtractor_AcceptedRenditions(t *testing.T) {
	e := NewDateExtractor("約定日")

	days := []time.Time{
		Day(2025, time.January, 15),
		Day(2024, time.February, 29),
		Day(2023, time.December, 31),
		Day(2000, time.March, 1),
	}

	for _, want := range days {
		renditions := []string{
			want.Format("2006/01/02"),
			want.Format("2006-01-02"),
			fmt.Sprintf("%d年%d月%d日", want.Year(), want.Month(), want.Day()),
			fmt.Sprintf("%d年%02d月%02d日", want.Year(), want.Month(), want.Day()),
		}
		for _, r := range renditions {
			t.Run(r, func(t *testing.T) {
				got, ok := e.Extract("約定日："+r+"\n", "")
				require.True(t, ok)
				assert.Equal(t, want, got)
			})
		}
	}
}

func TestDateExtractor_RejectsInvalidCalendarDates(t *testing.T) {
	e := NewDateExtractor("約定日")

	for _, s := range []string{"2024年2月30日", "2023/02/29", "2025-13-01", "2025/04/31", "2025/00/10"} {
		t.Run(s, func(t *testing.T) {
			_, ok := e.Extract("約定日："+s, "お知らせ")
			assert.False(t, ok)
		})
	}
}

func TestDateExtractor_LabelPriority(t *testing.T) {
	e := NewDateExtractor("約定日", "受渡日")
	body := "受渡日：2025/01/17\n注文日：2025/01/14\n約定日：2025/01/15"

	got, ok := e.Extract(body, "")
	require.True(t, ok)
	assert.Equal(t, Day(2025, time.January, 15), got)
}

func TestDateExtractor_InvalidLabelledFallsThrough(t *testing.T) {
	e := NewDateExtractor("約定日", "受渡日")
	body := "約定日：2025/02/30\n受渡日：2025/03/04"

	got, ok := e.Extract(body, "")
	require.True(t, ok)
	assert.Equal(t, Day(2025, time.March, 4), got)
}

func TestDateExtractor_FallbackToBodyThenSubject(t *testing.T) {
	e := NewDateExtractor("約定日")

	got, ok := e.Extract("お取引は2025-01-20に完了しました", "2025/01/01 のお知らせ")
	require.True(t, ok)
	assert.Equal(t, Day(2025, time.January, 20), got)

	got, ok = e.Extract("本文に日付なし", "【約定】2025年1月21日 約定のお知らせ")
	require.True(t, ok)
	assert.Equal(t, Day(2025, time.January, 21), got)

	_, ok = e.Extract("本文に日付なし", "お知らせ")
	assert.False(t, ok)
}

func TestDateExtractor_FullWidthDigits(t *testing.T) {
	e := NewDateExtractor("約定日")

	got, ok := e.Extract("約定日：２０２５／０１／１５", "")
	require.True(t, ok)
	assert.Equal(t, Day(2025, time.January, 15), got)
}

func TestParseDate(t *testing.T) {
	got, ok := ParseDate("2025-01-15")
	require.True(t, ok)
	assert.Equal(t, "2025/01/15", got.Format(DateLayout))

	_, ok = ParseDate("15 January")
	assert.False(t, ok)
}
