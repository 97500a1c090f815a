package htmlutil

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

var innerWhitespace = regexp.MustCompile(`\s\s+`)

// CleanText strips non-printable runes, trims, and collapses runs of
// inner whitespace, which scraped table cells are full of.
func CleanText(s string) string {
	var printable strings.Builder
	for _, c := range s {
		if unicode.IsPrint(c) || c == '\n' {
			printable.WriteRune(c)
		}
	}
	trimmed := strings.Trim(printable.String(), " \t\n")
	return innerWhitespace.ReplaceAllString(trimmed, " ")
}

// HiddenInputs collects the values of named hidden <input> fields.
// ASP.NET backends require these anti-forgery fields (__VIEWSTATE and
// friends) to be echoed back on form submission. Fields absent from
// the document are omitted rather than treated as an error.
func HiddenInputs(doc *goquery.Document, names ...string) map[string]string {
	fields := map[string]string{}
	for _, name := range names {
		sel := doc.Find(fmt.Sprintf("input[name='%s']", name))
		if value, ok := sel.Attr("value"); ok {
			fields[name] = value
		}
	}
	return fields
}
