package parser

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"
)

const (
	maxIPLen     = 45
	maxMethodLen = 10
)

// Fields holds typed values converted from Tokens. Pointer fields are nil
// when the value is absent or failed to normalize.
type Fields struct {
	IPAddress     string
	Timestamp     time.Time
	RequestMethod *string
	Resource      *string
	Protocol      string
	StatusCode    int
	ResponseSize  *int64
	Referrer      string
	UserAgent     string
	RemoteUser    string
	Ident         string

	StatusOutOfRange bool
	UnknownMethod    bool
}

// Normalizer converts raw tokens into typed fields.
type Normalizer struct {
	timeFormat string
	methods    map[string]struct{}
}

// NewNormalizer creates a Normalizer. Methods outside accepted are still
// passed through; they only set Fields.UnknownMethod.
func NewNormalizer(timeFormat string, accepted []string) *Normalizer {
	n := &Normalizer{
		timeFormat: timeFormat,
		methods:    make(map[string]struct{}, len(accepted)),
	}
	for _, m := range accepted {
		n.methods[strings.ToUpper(m)] = struct{}{}
	}
	return n
}

// Normalize converts every token independently. A failure in one field
// never stops the others; all failures are returned together.
func (n *Normalizer) Normalize(t *Tokens) (*Fields, []*FieldError) {
	f := &Fields{}
	var errs []*FieldError
	add := func(fe *FieldError) {
		if fe != nil {
			errs = append(errs, fe)
		}
	}

	add(normalizeIP(t.IP, f))
	add(n.normalizeTime(t.Timestamp, f))
	for _, fe := range n.normalizeRequest(t.Request, f) {
		add(fe)
	}
	add(normalizeStatus(t.Status, f))
	add(normalizeSize(t.Size, f))

	if t.ReferrerMalformed {
		add(&FieldError{Field: FieldReferrer, Reason: "malformed quoting"})
	} else if t.HasReferrer {
		f.Referrer = placeholder(t.Referrer)
	}
	if t.UserAgentMalformed {
		add(&FieldError{Field: FieldUserAgent, Reason: "malformed quoting"})
	} else if t.HasUserAgent {
		f.UserAgent = placeholder(t.UserAgent)
	}
	f.RemoteUser = placeholder(t.User)
	f.Ident = placeholder(t.Ident)

	return f, errs
}

// ValidateIP checks if the given string is a valid IPv4 or IPv6 literal that fits the column.
func ValidateIP(ip string) error {
	if ip == "" {
		return fmt.Errorf("empty IP address")
	}
	if len(ip) > maxIPLen {
		return fmt.Errorf("longer than %d characters", maxIPLen)
	}
	if _, err := netip.ParseAddr(ip); err != nil {
		return fmt.Errorf("invalid IP address")
	}
	return nil
}

func normalizeIP(raw string, f *Fields) *FieldError {
	if err := ValidateIP(raw); err != nil {
		return &FieldError{Field: FieldIPAddress, Value: raw, Reason: err.Error()}
	}
	f.IPAddress = raw
	return nil
}

func (n *Normalizer) normalizeTime(raw string, f *Fields) *FieldError {
	ts, err := time.Parse(n.timeFormat, raw)
	if err != nil {
		return &FieldError{Field: FieldTimestamp, Value: raw, Reason: "does not match " + n.timeFormat}
	}
	f.Timestamp = ts
	return nil
}

// normalizeRequest splits "METHOD resource PROTOCOL". An absent request
// ("-" or empty) leaves method and resource nil without an error. Invalid
// UTF-8 is dropped from the resource.
func (n *Normalizer) normalizeRequest(raw string, f *Fields) []*FieldError {
	req := strings.TrimSpace(raw)
	if req == "" || req == "-" {
		return nil
	}

	method, rest, _ := strings.Cut(req, " ")
	rest = strings.TrimSpace(rest)
	if i := strings.LastIndexByte(rest, ' '); i >= 0 && strings.HasPrefix(rest[i+1:], "HTTP/") {
		f.Protocol = rest[i+1:]
		rest = strings.TrimSpace(rest[:i])
	} else if strings.HasPrefix(rest, "HTTP/") && !strings.Contains(rest, " ") {
		f.Protocol, rest = rest, ""
	}
	rest = strings.ToValidUTF8(rest, "")
	if rest != "" {
		f.Resource = &rest
	}

	upper := strings.ToUpper(method)
	if !isMethodToken(upper) {
		return []*FieldError{{Field: FieldRequestMethod, Value: method, Reason: "not a method token"}}
	}
	var errs []*FieldError
	if len(upper) > maxMethodLen {
		errs = append(errs, &FieldError{Field: FieldRequestMethod, Value: method, Reason: fmt.Sprintf("longer than %d characters", maxMethodLen)})
	} else {
		f.RequestMethod = &upper
		if _, ok := n.methods[upper]; !ok {
			f.UnknownMethod = true
		}
	}
	if f.Resource == nil {
		errs = append(errs, &FieldError{Field: FieldResource, Value: req, Reason: "missing request target"})
	}
	return errs
}

func isMethodToken(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

func normalizeStatus(raw string, f *Fields) *FieldError {
	if !startsWithDigit(raw) {
		return &FieldError{Field: FieldStatusCode, Value: raw, Reason: "not an integer"}
	}
	code, err := strconv.Atoi(raw)
	if err != nil {
		return &FieldError{Field: FieldStatusCode, Value: raw, Reason: "not an integer"}
	}
	f.StatusCode = code
	f.StatusOutOfRange = code < 100 || code > 599
	return nil
}

// normalizeSize maps the "-" placeholder to 0.
func normalizeSize(raw string, f *Fields) *FieldError {
	if raw == "-" {
		var zero int64
		f.ResponseSize = &zero
		return nil
	}
	if strings.HasPrefix(raw, "-") {
		return &FieldError{Field: FieldResponseSize, Value: raw, Reason: "negative"}
	}
	if !startsWithDigit(raw) {
		return &FieldError{Field: FieldResponseSize, Value: raw, Reason: "not an integer"}
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return &FieldError{Field: FieldResponseSize, Value: raw, Reason: "not an integer"}
	}
	f.ResponseSize = &n
	return nil
}

// startsWithDigit rejects the sign prefixes strconv accepts.
func startsWithDigit(s string) bool {
	return s != "" && s[0] >= '0' && s[0] <= '9'
}

func placeholder(s string) string {
	if s == "-" {
		return ""
	}
	return s
}
