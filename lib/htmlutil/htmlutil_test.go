package htmlutil

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

func TestGetText(t *testing.T) {
	node, err := html.Parse(strings.NewReader(
		`<div>hello <b>big</b> world</div>`,
	))
	require.NoError(t, err)
	require.Equal(t, "hello big world", GetText(node))
}

func TestCleanText(t *testing.T) {
	require.Equal(t, "a b", CleanText("  a \t\t b  "))
	require.Equal(t, "狀態 已送達", CleanText("狀態   已送達"))
	require.Equal(t, "", CleanText(" \t "))
}

func TestHiddenInputs(t *testing.T) {
	page := `<html><body><form>
		<input type="hidden" name="__VIEWSTATE" value="dDwtMTIzNDU2Nzg5" />
		<input type="hidden" name="__VIEWSTATEGENERATOR" value="3E7313DB" />
		<input type="text" name="txtProductNum" value="" />
	</form></body></html>`

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	require.NoError(t, err)

	fields := HiddenInputs(doc, "__VIEWSTATE", "__VIEWSTATEGENERATOR", "__EVENTVALIDATION")
	require.Equal(t, map[string]string{
		"__VIEWSTATE":          "dDwtMTIzNDU2Nzg5",
		"__VIEWSTATEGENERATOR": "3E7313DB",
	}, fields)
}
