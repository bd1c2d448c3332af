package parser

import (
	"regexp"
	"strings"
)

// Apache common/combined log format example:
// 127.0.0.1 - frank [10/Oct/2000:13:55:36 -0700] "GET /apache_pb.gif HTTP/1.0" 200 2326
// 127.0.0.1 - - [10/Oct/2000:13:55:36 -0700] "GET /apache_pb.gif HTTP/1.0" 200 2326 "http://example.com/start.html" "Mozilla/4.08"
//
// The regexp only covers the mandatory common-format prefix. Status and size
// are captured as any non-space token so that bad values reach the
// normalizer as field errors instead of failing the whole line. The
// referrer/user-agent tail is scanned by hand so a broken quote there does
// not discard an otherwise usable line.
var apacheRe = regexp.MustCompile(`^(\S+)\s+(\S+)\s+(\S+)\s+\[([^\]]+)\]\s+"((?:[^"\\]|\\.)*)"\s+(\S+)\s+(\S+)(.*)$`)

// Tokens holds the raw substrings of one log line. Quoted fields are
// unquoted and unescaped; no type conversion is applied.
type Tokens struct {
	IP        string
	Ident     string
	User      string
	Timestamp string
	Request   string
	Status    string
	Size      string
	Referrer  string
	UserAgent string

	HasReferrer        bool
	HasUserAgent       bool
	ReferrerMalformed  bool
	UserAgentMalformed bool
}

// Tokenize splits a raw line into its fields. It returns a *TokenizeError
// wrapping ErrNoMatch when the line is not an access log line.
func Tokenize(line string) (*Tokens, error) {
	line = strings.TrimSpace(line)
	m := apacheRe.FindStringSubmatch(line)
	if m == nil {
		return nil, &TokenizeError{Input: truncate(line, 100), Err: ErrNoMatch}
	}

	t := &Tokens{
		IP:        m[1],
		Ident:     m[2],
		User:      m[3],
		Timestamp: m[4],
		Request:   unescape(m[5]),
		Status:    m[6],
		Size:      m[7],
	}
	t.scanTail(m[8])
	return t, nil
}

// scanTail extracts the optional quoted referrer and user-agent. Anything
// after the user-agent (custom LogFormat additions) is ignored.
func (t *Tokens) scanTail(tail string) {
	rest := strings.TrimLeft(tail, " \t")
	if rest == "" {
		return
	}

	ref, after, ok := quoted(rest)
	after = strings.TrimLeft(after, " \t")
	if ok && after != "" && after[0] != '"' {
		// the referrer closed early on an inner quote
		ok = false
	}
	if !ok {
		t.ReferrerMalformed = true
		// The user-agent is usually still intact at the end of the line.
		if ua, ok := trailingQuoted(rest); ok {
			t.UserAgent, t.HasUserAgent = ua, true
		} else {
			t.UserAgentMalformed = true
		}
		return
	}
	t.Referrer, t.HasReferrer = ref, true

	if after == "" {
		return
	}
	ua, extra, ok := quoted(after)
	if !ok || strayQuote(extra) {
		t.UserAgentMalformed = true
		return
	}
	t.UserAgent, t.HasUserAgent = ua, true
}

// strayQuote reports whether s holds an odd number of unescaped quotes,
// which means the field before it closed early on an inner quote.
func strayQuote(s string) bool {
	odd := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '"':
			odd = !odd
		}
	}
	return odd
}

// quoted parses a leading "..." string with backslash escapes and returns
// the unescaped value and the remainder after the closing quote.
func quoted(s string) (val, rest string, ok bool) {
	if len(s) == 0 || s[0] != '"' {
		return "", s, false
	}
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '"':
			// An unescaped quote inside the value is kept; only a quote
			// at a field boundary closes the string.
			if i+1 < len(s) && s[i+1] != ' ' && s[i+1] != '\t' {
				continue
			}
			return unescape(s[1:i]), s[i+1:], true
		}
	}
	return "", s, false
}

// trailingQuoted returns the last "..." string of s when s ends with one
// that starts at a field boundary.
func trailingQuoted(s string) (string, bool) {
	if len(s) < 2 || s[len(s)-1] != '"' {
		return "", false
	}
	for i := len(s) - 2; i >= 0; i-- {
		if s[i] != '"' || (i > 0 && s[i-1] == '\\') {
			continue
		}
		if i == 0 || s[i-1] == ' ' || s[i-1] == '\t' {
			return unescape(s[i+1 : len(s)-1]), true
		}
		return "", false
	}
	return "", false
}

var unescaper = strings.NewReplacer(`\"`, `"`, `\\`, `\`)

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	return unescaper.Replace(s)
}
