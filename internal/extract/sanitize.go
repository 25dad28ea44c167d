package extract

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	base64Run       = regexp.MustCompile(`[A-Za-z0-9+/]{100,}={0,2}`)
	horizontalSpace = regexp.MustCompile(`[ \t]{2,}`)
	blankLines      = regexp.MustCompile(`\n{3,}`)
	urlWithQuery    = regexp.MustCompile(`(https?://[^\s?#"'<>()]+)\?[^\s"'<>()]*`)
)

// RedactBase64 replaces every base64-like run of 100 or more characters
// with a placeholder carrying the encoded size.
func RedactBase64(text string) string {
	return base64Run.ReplaceAllStringFunc(text, func(run string) string {
		return fmt.Sprintf("[base64: %d bytes]", len(run))
	})
}

// CollapseWhitespace folds horizontal whitespace runs to a single space
// and three or more newlines to a single blank line.
func CollapseWhitespace(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = horizontalSpace.ReplaceAllString(text, " ")
	return blankLines.ReplaceAllString(text, "\n\n")
}

// StripURLParams removes query strings from bare http(s) URLs
func StripURLParams(text string) string {
	return urlWithQuery.ReplaceAllString(text, "$1")
}

// clean runs the redaction pass followed by the optional sanitization pass
func clean(text string, opts Options) string {
	text = RedactBase64(text)
	if opts.CollapseWhitespace {
		text = CollapseWhitespace(text)
	}
	if opts.StripURLParams {
		text = StripURLParams(text)
	}
	return text
}
