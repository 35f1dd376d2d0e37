package dom

import (
	"regexp"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	// keep the first blank of a run, drop the rest
	blankRun = regexp.MustCompile(`([ \t\r\f\n\x{200B}])[ \t\r\f\x{200B}]*`)
	// a blank directly before a newline collapses into it
	blankNewline = regexp.MustCompile(`[ \t\r\f\x{200B}]\n`)
	newlines     = regexp.MustCompile(`\n+`)
)

// CompressWhitespace collapses runs of whitespace the way the non-debug
// output wants them: a run keeps its first character, and newlines absorb the
// blanks before them and each other. Empty strings stay empty.
func CompressWhitespace(s string) string {
	s = blankRun.ReplaceAllString(s, "$1")
	s = blankNewline.ReplaceAllString(s, "\n")
	return newlines.ReplaceAllString(s, "\n")
}

// WhitespaceSensitive reports whether the text content of n must be kept
// verbatim.
func WhitespaceSensitive(n *html.Node) bool {
	return IsElement(n, atom.Pre, atom.Script, atom.Style, atom.Textarea)
}

// Compress removes n when it is a comment and returns nil, otherwise it
// compresses the direct text children of a non-sensitive element in place and
// returns n.
func Compress(n *html.Node) *html.Node {
	switch {
	case n.Type == html.CommentNode:
		Detach(n)
		return nil
	case n.Type == html.ElementNode && !WhitespaceSensitive(n):
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				c.Data = CompressWhitespace(c.Data)
			}
		}
	}
	return n
}
