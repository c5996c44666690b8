package parser

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/myfinance/service/config"
	"github.com/brojonat/myfinance/service/extract"
	"github.com/brojonat/myfinance/service/inbox"
)

func testFunds() *extract.FundTable {
	return extract.NewFundTable([]config.FundEntry{
		{Keyword: "Fund A", Ticker: "X1", DisplayName: "Fund A Display"},
		{Keyword: "Fund A Global", Ticker: "X2", DisplayName: "Fund A Global Display"},
		{Keyword: "楽天・全米株式", Ticker: "9I312179", DisplayName: "楽天・全米株式インデックス・ファンド"},
	})
}

func TestFundParser_Purchase(t *testing.T) {
	p := NewFundParser(testFunds())
	msg := &inbox.Message{
		ID:       "m1",
		Subject:  "Fund A 約定のお知らせ",
		TextBody: "約定日：2025/01/15 買付金額：33,333円",
	}

	res, err := p.Parse(msg)
	require.NoError(t, err)
	require.False(t, res.Abstained())

	fp, ok := res.Transaction.(FundPurchase)
	require.True(t, ok)
	assert.Equal(t, extract.Day(2025, time.January, 15), fp.OccurredOn)
	assert.Equal(t, int64(33333), fp.Amount)
	assert.Equal(t, "m1", fp.MessageID)
	assert.Equal(t, "Fund A", fp.FundKey)
	assert.Equal(t, "X1", fp.Ticker)
	assert.Equal(t, "Fund A Display", fp.DisplayName)
	assert.Equal(t, SourceFund, fp.Source())
}

func TestFundParser_HTMLOnly(t *testing.T) {
	p := NewFundParser(testFunds())
	msg := &inbox.Message{
		ID:       "m2",
		Subject:  "投資信託買付のお知らせ",
		HTMLBody: "<table><tr><td>約定日</td><td>２０２５年１月１５日</td></tr><tr><td>ファンド</td><td>Fund A Global</td></tr><tr><td>買付金額</td><td>１０，０００円</td></tr></table>",
	}

	res, err := p.Parse(msg)
	require.NoError(t, err)
	fp := res.Transaction.(FundPurchase)
	assert.Equal(t, "X2", fp.Ticker)
	assert.Equal(t, int64(10000), fp.Amount)
	assert.Equal(t, extract.Day(2025, time.January, 15), fp.OccurredOn)
}

func TestFundParser_Abstains(t *testing.T) {
	p := NewFundParser(testFunds())

	tests := []struct {
		name    string
		msg     *inbox.Message
		missing Field
	}{
		{"empty body", &inbox.Message{Subject: "約定"}, FieldText},
		{"no date", &inbox.Message{Subject: "約定", TextBody: "Fund A を買付しました。金額：10,000円"}, FieldDate},
		{"no amount", &inbox.Message{Subject: "約定", TextBody: "約定日：2025/01/15 Fund A を買付しました"}, FieldAmount},
		{"unknown fund", &inbox.Message{Subject: "約定", TextBody: "約定日：2025/01/15 買付金額：33,333円 Fund Z"}, FieldIdentity},
		{"not a purchase", &inbox.Message{Subject: "お知らせ", TextBody: "メンテナンスのお知らせです。2025/01/15 1,000円"}, FieldClass},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := p.Parse(tt.msg)
			require.NoError(t, err)
			assert.True(t, res.Abstained())
			assert.Equal(t, tt.missing, res.Missing)
		})
	}
}

func TestParsers_NilMessageIsStructuralFault(t *testing.T) {
	for _, p := range DefaultRegistry(testFunds()).Parsers() {
		_, err := p.Parse(nil)
		assert.ErrorIs(t, err, ErrNilMessage, p.Name())
		assert.False(t, p.Matches(nil))
	}
}

func TestBankParser(t *testing.T) {
	p := NewBankParser()

	t.Run("withdrawal with description", func(t *testing.T) {
		res, err := p.Parse(&inbox.Message{
			ID:      "b1",
			From:    "info@smbc.co.jp",
			Subject: "【三井住友銀行】入出金のお知らせ",
			TextBody: "三井住友銀行より入出金のお知らせです。\n" +
				"お取引日：2025年1月15日\nお取引内容：振込出金\nお取引金額：50,000円\n残高：1,234,567円",
		})
		require.NoError(t, err)
		bm := res.Transaction.(BankMovement)
		assert.Equal(t, int64(-50000), bm.Amount)
		assert.Equal(t, "振込出金", bm.Description)
		assert.Equal(t, extract.Day(2025, time.January, 15), bm.OccurredOn)
	})

	t.Run("deposit without description", func(t *testing.T) {
		res, err := p.Parse(&inbox.Message{
			ID:       "b2",
			From:     "info@smbc.co.jp",
			Subject:  "【三井住友銀行】入出金のお知らせ",
			TextBody: "入金がありました。\n日付：2025/01/16\n入金金額：120,000円",
		})
		require.NoError(t, err)
		bm := res.Transaction.(BankMovement)
		assert.Equal(t, int64(120000), bm.Amount)
		assert.Equal(t, "入金", bm.Description)
	})

	t.Run("direction unknown", func(t *testing.T) {
		res, err := p.Parse(&inbox.Message{
			From:     "info@smbc.co.jp",
			Subject:  "【三井住友銀行】入出金のお知らせ",
			TextBody: "お取引日：2025/01/15\nお取引金額：1,000円\nご確認ください",
		})
		require.NoError(t, err)
		assert.True(t, res.Abstained())
		assert.Equal(t, FieldIdentity, res.Missing)
	})

	t.Run("balance is not an amount", func(t *testing.T) {
		res, err := p.Parse(&inbox.Message{
			From:     "info@smbc.co.jp",
			Subject:  "【三井住友銀行】残高のお知らせ",
			TextBody: "お取引日：2025/01/15\n出金がありました\n残高：1,234,567円",
		})
		require.NoError(t, err)
		assert.Equal(t, FieldAmount, res.Missing)
	})
}

func TestBrokerParser_RakutenBuy(t *testing.T) {
	p := NewBrokerParser(RakutenSecurities, testFunds())
	msg := &inbox.Message{
		ID:      "r1",
		From:    "tradesys@rakuten-sec.co.jp",
		Subject: "【楽天証券】約定のお知らせ",
		TextBody: "約定日：2025/01/15\n銘柄名：トヨタ自動車（7203）\n取引：現物買付\n" +
			"約定数量：100株\n約定単価：2,850円\n受渡金額：285,000円",
	}

	require.True(t, p.Matches(msg))
	res, err := p.Parse(msg)
	require.NoError(t, err)

	st := res.Transaction.(SecurityTrade)
	assert.Equal(t, int64(285000), st.Amount)
	assert.Equal(t, "トヨタ自動車", st.SecurityName)
	assert.Equal(t, "7203", st.Ticker)
	assert.Equal(t, "rakuten", st.Broker)
	assert.Equal(t, extract.Buy, st.Action)
	assert.True(t, decimal.NewFromInt(2850).Equal(st.UnitPrice))
	assert.True(t, decimal.NewFromInt(100).Equal(st.Quantity))
}

func TestBrokerParser_SBISellDerivesAmount(t *testing.T) {
	p := NewBrokerParser(SBISecurities, testFunds())
	msg := &inbox.Message{
		ID:      "s1",
		From:    "alert@sbisec.co.jp",
		Subject: "【SBI証券】約定通知",
		TextBody: "約定日時：2025/01/20 10:15\n銘柄：ソニーグループ\n銘柄コード：6758\n" +
			"取引：現物売付\n約定株数：10株\n約定単価：3,123.5円",
	}

	res, err := p.Parse(msg)
	require.NoError(t, err)

	st := res.Transaction.(SecurityTrade)
	assert.Equal(t, int64(-31235), st.Amount)
	assert.Equal(t, extract.Sell, st.Action)
	assert.Equal(t, "ソニーグループ", st.SecurityName)
	assert.Equal(t, "6758", st.Ticker)
	assert.Equal(t, extract.Day(2025, time.January, 20), st.OccurredOn)
}

func TestBrokerParser_FundTableFallback(t *testing.T) {
	p := NewBrokerParser(RakutenSecurities, testFunds())
	res, err := p.Parse(&inbox.Message{
		From:     "tradesys@rakuten-sec.co.jp",
		Subject:  "投信積立 約定のお知らせ",
		TextBody: "約定日：2025/01/15\n楽天・全米株式インデックス・ファンド を積立で購入しました\n受渡金額：30,000円",
	})
	require.NoError(t, err)

	st := res.Transaction.(SecurityTrade)
	assert.Equal(t, "9I312179", st.Ticker)
	assert.Equal(t, "楽天・全米株式インデックス・ファンド", st.SecurityName)
}

func TestBrokerParser_HTMLOnlyNotice(t *testing.T) {
	p := NewBrokerParser(RakutenSecurities, testFunds())
	msg := &inbox.Message{
		From:    "tradesys@rakuten-sec.co.jp",
		Subject: "【楽天証券】ご注文の結果",
		HTMLBody: "<html><body><p>約定日：2025/01/15</p><p>銘柄名：トヨタ自動車（7203）</p>" +
			"<p>約定数量：100株</p><p>約定単価：2,850円</p><p>受渡金額：285,000円</p></body></html>",
	}

	require.True(t, p.Matches(msg))
	res, err := p.Parse(msg)
	require.NoError(t, err)
	require.False(t, res.Abstained())
	assert.Equal(t, int64(285000), res.Transaction.(SecurityTrade).Amount)

	msg.HTMLBody = "<p>ご注文を受け付けました</p>"
	assert.False(t, p.Matches(msg))
}

func TestBrokerParser_WrongSender(t *testing.T) {
	p := NewBrokerParser(SBISecurities, nil)
	res, err := p.Parse(&inbox.Message{From: "tradesys@rakuten-sec.co.jp", TextBody: "約定日：2025/01/15"})
	require.NoError(t, err)
	assert.Equal(t, FieldClass, res.Missing)
}

func TestCardParser(t *testing.T) {
	p := NewCardParser()
	body := "■利用日: 2025/01/15\n■利用先: AMAZON.CO.JP\n■利用者: 本人\n■支払方法: 1回払い\n■利用金額: 3,980 円"

	res, err := p.Parse(&inbox.Message{ID: "c1", From: "info@mail.rakuten-card.co.jp", Subject: "カード利用のお知らせ(本人ご利用分)", TextBody: body})
	require.NoError(t, err)
	cc := res.Transaction.(CardCharge)
	assert.Equal(t, int64(3980), cc.Amount)
	assert.Equal(t, "AMAZON.CO.JP", cc.Merchant)
	assert.Equal(t, "1回払い", cc.PaymentMethod)
	assert.False(t, cc.IsPreliminaryNotice)

	res, err = p.Parse(&inbox.Message{ID: "c2", From: "info@mail.rakuten-card.co.jp", Subject: "【速報版】カード利用のお知らせ", TextBody: "■利用日: 2025/01/15\n■利用先: コンビニ\n■利用金額: 540 円"})
	require.NoError(t, err)
	cc = res.Transaction.(CardCharge)
	assert.True(t, cc.IsPreliminaryNotice)
	assert.Equal(t, "カード", cc.PaymentMethod)
}

func TestRegistry_ParseFollowsSourceOrder(t *testing.T) {
	r := DefaultRegistry(testFunds())

	fundMail := &inbox.Message{
		From:     "tradesys@rakuten-sec.co.jp",
		Subject:  "【楽天証券】約定のお知らせ",
		TextBody: "約定日：2025/01/15\nファンド名：Fund A\n買付金額：10,000円",
	}
	p, res, err := r.Parse(fundMail)
	require.NoError(t, err)
	assert.Equal(t, "fund", p.Name())
	assert.IsType(t, FundPurchase{}, res.Transaction)

	stockMail := &inbox.Message{
		From:     "tradesys@rakuten-sec.co.jp",
		Subject:  "【楽天証券】約定のお知らせ",
		TextBody: "約定日：2025/01/15\n銘柄名：トヨタ自動車（7203）\n受渡金額：285,000円",
	}
	p, res, err = r.Parse(stockMail)
	require.NoError(t, err)
	assert.Equal(t, "rakuten", p.Name())
	assert.IsType(t, SecurityTrade{}, res.Transaction)

	_, err = r.Get("nope")
	assert.Error(t, err)
}
