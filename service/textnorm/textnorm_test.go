package textnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize_PrefersPlainText(t *testing.T) {
	text := "約定日：2025/01/15\n買付金額：33,333円\nご確認ください"
	out, ok := Normalize(text, "<p>ignored</p>")

	assert.True(t, ok)
	assert.Equal(t, "約定日:2025/01/15\n買付金額:33,333円\nご確認ください", out)
}

func TestNormalize_FallsBackToHTMLForShortText(t *testing.T) {
	htmlBody := `<html><head><style>p{color:red}</style><title>x</title></head><body>
<table><tr><td>約定日</td><td>2025/01/15</td></tr>
<tr><td>買付金額</td><td>33,333&#20870;</td></tr></table>
<p>Fund&nbsp;A &amp; more</p><script>var a = 1;</script></body></html>`

	out, ok := Normalize("HTMLメール", htmlBody)

	assert.True(t, ok)
	assert.Contains(t, out, "約定日 2025/01/15")
	assert.Contains(t, out, "買付金額 33,333円")
	assert.Contains(t, out, "Fund A & more")
	assert.NotContains(t, out, "color")
	assert.NotContains(t, out, "var a")
}

func TestNormalize_FoldsFullWidth(t *testing.T) {
	out, ok := Normalize("金額：１２，３４５円　（手数料込み）です。よろしくお願いします", "")

	assert.True(t, ok)
	assert.Equal(t, "金額:12,345円 (手数料込み)です。よろしくお願いします", out)
}

func TestNormalize_EmptyInput(t *testing.T) {
	out, ok := Normalize("  \n ", "<div>  </div>")

	assert.False(t, ok)
	assert.Empty(t, out)
}

func TestNormalize_ShortTextWithoutHTML(t *testing.T) {
	out, ok := Normalize("出金 1,000円", "")

	assert.True(t, ok)
	assert.Equal(t, "出金 1,000円", out)
}

func TestStripHTML_LineBoundaries(t *testing.T) {
	out := StripHTML("a<br>b<br/>c<div>d</div>e<p>f</p>")
	assert.Equal(t, "a\nb\ncd\nef\n", out)
}

func TestCollapse(t *testing.T) {
	assert.Equal(t, "a b\nc", Collapse("  a \t  b \r\n\r\n\n   c  "))
}
