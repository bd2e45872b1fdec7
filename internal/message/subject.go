package message

import (
	"fmt"
	"io"
	"mime"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-message/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
)

var (
	foldPattern    = regexp.MustCompile(`\n\s*`)
	listTagPattern = regexp.MustCompile(`\[[^\]]+:\d+\]`)
	replyPattern   = regexp.MustCompile(`(?i)(?:Re:\s*)+`)
	wordDecoder    = &mime.WordDecoder{CharsetReader: charset.Reader}
	utf8Charsets   = map[string]bool{"": true, "utf-8": true, "utf8": true, "us-ascii": true}
)

// DecodeSubject unfolds a header value and decodes its RFC 2047 words to
// UTF-8. Undecodable input is returned unfolded but otherwise untouched.
func DecodeSubject(subject string) string {
	unfolded := foldPattern.ReplaceAllString(subject, " ")
	decoded, err := wordDecoder.DecodeHeader(unfolded)
	if err != nil {
		return unfolded
	}
	return decoded
}

// CleanSubject decodes the subject, drops earlier "[name:count]" tags and
// collapses stacked "Re:" prefixes.
func CleanSubject(subject string) string {
	subject = DecodeSubject(subject)
	subject = listTagPattern.ReplaceAllString(subject, "")
	if loc := replyPattern.FindStringIndex(subject); loc != nil {
		subject = subject[:loc[0]] + "Re: " + subject[loc[1]:]
	}
	return subject
}

// RewriteSubject stamps the list tag on a subject and encodes it for the
// header.
func RewriteSubject(subject, name string, count int, charsetName string) string {
	subject = fmt.Sprintf("[%s:%d] %s", name, count, CleanSubject(subject))
	return EncodeField(subject, charsetName)
}

// EncodeField turns non-ASCII UTF-8 text into an RFC 2047 B-encoded word in
// charsetName, or in UTF-8 when charsetName cannot represent it.
func EncodeField(value, charsetName string) string {
	if isASCII(value) || !utf8.ValidString(value) {
		return value
	}
	name := strings.ToLower(charsetName)
	if !utf8Charsets[name] {
		if enc := lookupEncoding(name); enc != nil {
			if encoded, err := enc.NewEncoder().String(value); err == nil {
				return mime.BEncoding.Encode(name, encoded)
			}
		}
	}
	return mime.BEncoding.Encode("utf-8", value)
}

// EncodeText converts UTF-8 text to charsetName for a message body.
// Characters the charset lacks are replaced.
func EncodeText(text, charsetName string) string {
	name := strings.ToLower(charsetName)
	if utf8Charsets[name] || isASCII(text) {
		return text
	}
	enc := lookupEncoding(name)
	if enc == nil {
		return text
	}
	encoded, err := encoding.ReplaceUnsupported(enc.NewEncoder()).String(text)
	if err != nil {
		return text
	}
	return encoded
}

// decodeText converts body text in charsetName to UTF-8.
func decodeText(text, charsetName string) string {
	name := strings.ToLower(charsetName)
	if utf8Charsets[name] {
		return text
	}
	r, err := charset.Reader(name, strings.NewReader(text))
	if err != nil {
		return text
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return text
	}
	return string(decoded)
}

func lookupEncoding(name string) encoding.Encoding {
	enc, err := ianaindex.MIME.Encoding(name)
	if err != nil || enc == nil {
		return nil
	}
	return enc
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
