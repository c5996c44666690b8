package extract

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fundAmountLabels = []string{"買付金額", "約定金額", "購入金額", "受渡金額", "注文金額"}

func TestAmountExtractor_Labelled(t *testing.T) {
	e := NewAmountExtractor(fundAmountLabels...)

	tests := []struct {
		name string
		body string
		want int64
	}{
		{"plain", "買付金額：33,333円", 33333},
		{"yen sign before", "約定金額: ¥100,000", 100000},
		{"full-width yen sign", "受渡金額 ￥5,000 円", 5000},
		{"label beats larger figure", "残高 1,000,000円\n購入金額：10,000円", 10000},
		{"generic label", "お取引金額：2,500円", 2500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := e.Extract(tt.body)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAmountExtractor_FullWidthEquivalence(t *testing.T) {
	e := NewAmountExtractor(fundAmountLabels...)

	half, ok := e.Extract("12,345円")
	require.True(t, ok)
	full, ok := e.Extract("１２，３４５円")
	require.True(t, ok)

	assert.Equal(t, int64(12345), half)
	assert.Equal(t, half, full)
}

func TestAmountExtractor_ZeroIsNoResult(t *testing.T) {
	e := NewAmountExtractor(fundAmountLabels...)

	_, ok := e.Extract("買付金額：0円")
	assert.False(t, ok)

	_, ok = e.Extract("金額の記載なし")
	assert.False(t, ok)
}

// The max-token fallback is a heuristic: these cases document its behavior
// on simple templates and one where it is known to pick the wrong figure.
func TestAmountExtractor_MaxTokenFallback_KnownWeak(t *testing.T) {
	e := NewAmountExtractor(fundAmountLabels...)

	got, ok := e.Extract("ご注文 30,000円\n手数料 110円")
	require.True(t, ok)
	assert.Equal(t, int64(30000), got)

	// A balance line larger than the principal wins. This is not a contract.
	got, ok = e.Extract("ご注文 30,000円\n口座残高 1,250,000円")
	require.True(t, ok)
	assert.Equal(t, int64(1250000), got, "known-weak: max-token fallback picks the largest figure")
}

func TestAmountExtractor_WithoutFallback(t *testing.T) {
	e := NewAmountExtractor("利用金額").WithoutFallback()

	_, ok := e.Extract("ご注文 30,000円")
	assert.False(t, ok)
}

func TestParseYen(t *testing.T) {
	v, ok := ParseYen("１，０００")
	require.True(t, ok)
	assert.Equal(t, int64(1000), v)

	_, ok = ParseYen("abc")
	assert.False(t, ok)
}

func TestNumberExtractor(t *testing.T) {
	price := NewNumberExtractor("約定単価", "単価")
	qty := NewNumberExtractor("約定数量", "数量")
	body := "約定単価：1,234.5円\n約定数量：100株"

	p, ok := price.Extract(body)
	require.True(t, ok)
	assert.True(t, decimal.RequireFromString("1234.5").Equal(p))

	q, ok := qty.Extract(body)
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(100).Equal(q))

	_, ok = qty.Extract("数量：0株")
	assert.False(t, ok)
}

func TestDeriveAmount(t *testing.T) {
	v, ok := DeriveAmount(decimal.RequireFromString("1234.5"), decimal.NewFromInt(3))
	require.True(t, ok)
	assert.Equal(t, int64(3704), v)

	_, ok = DeriveAmount(decimal.Zero, decimal.NewFromInt(3))
	assert.False(t, ok)
}
