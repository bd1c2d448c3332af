package parser

import (
	"errors"
	"testing"
	"time"
)

var defaultMethods = []string{"GET", "POST", "HEAD", "PUT", "DELETE", "PATCH", "OPTIONS"}

func newTestParser() *Parser {
	return New(Options{
		AcceptedMethods: defaultMethods,
		Extensions:      []string{ExtProtocol, ExtReferrer, ExtUserAgent},
	})
}

func TestParseExampleLine(t *testing.T) {
	line := `127.0.0.1 - - [10/Oct/2023:13:55:36 -0700] "GET /index.html HTTP/1.1" 200 2326 "-" "Mozilla/5.0"`

	rec, err := newTestParser().Parse(line)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	want := time.Date(2023, 10, 10, 13, 55, 36, 0, time.FixedZone("", -7*3600))
	if rec.IPAddress != "127.0.0.1" {
		t.Errorf("ip = %q", rec.IPAddress)
	}
	if !rec.Timestamp.Equal(want) {
		t.Errorf("timestamp = %s, want %s", rec.Timestamp, want)
	}
	if _, off := rec.Timestamp.Zone(); off != -7*3600 {
		t.Errorf("offset not preserved: %d", off)
	}
	if rec.Method() != "GET" || rec.Path() != "/index.html" {
		t.Errorf("method/resource = %q %q", rec.Method(), rec.Path())
	}
	if rec.StatusCode != 200 {
		t.Errorf("status = %d", rec.StatusCode)
	}
	if rec.ResponseSize == nil || *rec.ResponseSize != 2326 {
		t.Errorf("size = %v", rec.ResponseSize)
	}
	if rec.Extensions[ExtUserAgent] != "Mozilla/5.0" {
		t.Errorf("user agent = %q", rec.Extensions[ExtUserAgent])
	}
	if _, ok := rec.Extensions[ExtReferrer]; ok {
		t.Error(`"-" referrer should be absent`)
	}
	if rec.Extensions[ExtProtocol] != "HTTP/1.1" {
		t.Errorf("protocol = %q", rec.Extensions[ExtProtocol])
	}
	if len(rec.Degraded) != 0 {
		t.Errorf("unexpected degraded fields: %v", rec.Degraded)
	}
}

func TestParseGarbageLine(t *testing.T) {
	rec, err := newTestParser().Parse("malformed garbage line")
	if rec != nil {
		t.Fatalf("expected no record, got %+v", rec)
	}
	var te *TokenizeError
	if !errors.As(err, &te) {
		t.Fatalf("expected TokenizeError, got %T %v", err, err)
	}
	if !errors.Is(err, ErrNoMatch) {
		t.Error("TokenizeError should wrap ErrNoMatch")
	}
}

func TestParseRoundTrip(t *testing.T) {
	tests := []struct {
		line    string
		ip      string
		ts      string
		method  string
		path    string
		status  int
		size    int64
		ua      string
		referer string
	}{
		{
			line:   `10.0.0.1 - frank [01/Jan/2024:00:00:00 +0000] "post /api/v1/items?id=3 HTTP/2.0" 201 512`,
			ip:     "10.0.0.1",
			ts:     "2024-01-01T00:00:00Z",
			method: "POST",
			path:   "/api/v1/items?id=3",
			status: 201,
			size:   512,
		},
		{
			line:    `2001:db8::1 - - [31/Dec/2023:23:59:59 +0530] "HEAD / HTTP/1.0" 304 - "https://example.com/a b" "curl/8.0 (x86_64)"`,
			ip:      "2001:db8::1",
			ts:      "2023-12-31T23:59:59+05:30",
			method:  "HEAD",
			path:    "/",
			status:  304,
			size:    0,
			ua:      "curl/8.0 (x86_64)",
			referer: "https://example.com/a b",
		},
		{
			line:   "  192.168.1.20 - - [05/Mar/2024:08:15:00 -0500] \"DELETE /items/9 HTTP/1.1\" 500 17 \"-\" \"Go \\\"client\\\"\"\r\n",
			ip:     "192.168.1.20",
			ts:     "2024-03-05T08:15:00-05:00",
			method: "DELETE",
			path:   "/items/9",
			status: 500,
			size:   17,
			ua:     `Go "client"`,
		},
	}

	p := newTestParser()
	for _, tt := range tests {
		rec, err := p.Parse(tt.line)
		if err != nil {
			t.Errorf("Parse(%q): %v", tt.line, err)
			continue
		}
		wantTS, _ := time.Parse(time.RFC3339, tt.ts)
		if rec.IPAddress != tt.ip || !rec.Timestamp.Equal(wantTS) || rec.Method() != tt.method ||
			rec.Path() != tt.path || rec.StatusCode != tt.status {
			t.Errorf("Parse(%q) = %s %s %s %s %d", tt.line, rec.IPAddress, rec.Timestamp, rec.Method(), rec.Path(), rec.StatusCode)
		}
		if rec.ResponseSize == nil || *rec.ResponseSize != tt.size {
			t.Errorf("Parse(%q) size = %v, want %d", tt.line, rec.ResponseSize, tt.size)
		}
		if rec.Extensions[ExtUserAgent] != tt.ua {
			t.Errorf("Parse(%q) ua = %q, want %q", tt.line, rec.Extensions[ExtUserAgent], tt.ua)
		}
		if rec.Extensions[ExtReferrer] != tt.referer {
			t.Errorf("Parse(%q) referrer = %q, want %q", tt.line, rec.Extensions[ExtReferrer], tt.referer)
		}
	}
}

func TestDashSizeIsZero(t *testing.T) {
	rec, err := newTestParser().Parse(`1.2.3.4 - - [10/Oct/2023:13:55:36 -0700] "GET / HTTP/1.1" 404 -`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if rec.ResponseSize == nil || *rec.ResponseSize != 0 {
		t.Errorf("size = %v, want 0", rec.ResponseSize)
	}
}

func TestNonNumericStatusRejected(t *testing.T) {
	rec, err := newTestParser().Parse(`1.2.3.4 - - [10/Oct/2023:13:55:36 -0700] "GET / HTTP/1.1" abc 10 "-" "ua"`)
	if rec != nil {
		t.Fatal("expected rejection")
	}
	var re *RejectError
	if !errors.As(err, &re) {
		t.Fatalf("expected RejectError, got %T %v", err, err)
	}
	if len(re.Errors) != 1 {
		t.Fatalf("expected exactly one field error, got %v", re.Errors)
	}
	if re.Errors[0].Field != FieldStatusCode {
		t.Errorf("field = %s", re.Errors[0].Field)
	}

	var fe *FieldError
	if !errors.As(err, &fe) || fe.Field != FieldStatusCode {
		t.Error("errors.As should reach the FieldError through RejectError")
	}
}

func TestMalformedOptionalFieldsDegrade(t *testing.T) {
	tests := []struct {
		name       string
		line       string
		nulled     Field
		keptUA     string
		keptRefKey bool
	}{
		{
			name:   "unterminated user agent",
			line:   `1.2.3.4 - - [10/Oct/2023:13:55:36 -0700] "GET / HTTP/1.1" 200 5 "https://ref.example/" "Mozilla/5.0 (X11`,
			nulled: FieldUserAgent,
		},
		{
			name:   "unquoted referrer",
			line:   `1.2.3.4 - - [10/Oct/2023:13:55:36 -0700] "GET / HTTP/1.1" 200 5 -" "Mozilla/5.0"`,
			nulled: FieldReferrer,
			keptUA: "Mozilla/5.0",
		},
		{
			name:   "inner quote in user agent",
			line:   `1.2.3.4 - - [10/Oct/2023:13:55:36 -0700] "GET / HTTP/1.1" 200 5 "-" "Mozilla "compat" x"`,
			nulled: FieldUserAgent,
		},
		{
			name:   "inner quote in referrer",
			line:   `1.2.3.4 - - [10/Oct/2023:13:55:36 -0700] "GET / HTTP/1.1" 200 5 "https://a.example/ "b" c" "Mozilla/5.0"`,
			nulled: FieldReferrer,
			keptUA: "Mozilla/5.0",
		},
	}

	p := newTestParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := p.Parse(tt.line)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if len(rec.Degraded) != 1 || rec.Degraded[0].Field != tt.nulled {
				t.Fatalf("degraded = %v, want only %s", rec.Degraded, tt.nulled)
			}
			if _, ok := rec.Extensions[string(tt.nulled)]; ok {
				t.Errorf("%s should be nulled", tt.nulled)
			}
			if rec.Extensions[ExtUserAgent] != tt.keptUA {
				t.Errorf("user agent = %q, want %q", rec.Extensions[ExtUserAgent], tt.keptUA)
			}
			if rec.IPAddress != "1.2.3.4" || rec.StatusCode != 200 {
				t.Errorf("required fields lost: %+v", rec)
			}
		})
	}
}

func TestFieldPolicies(t *testing.T) {
	const prefix = `1.2.3.4 - - [10/Oct/2023:13:55:36 -0700] `
	p := newTestParser()

	t.Run("negative size nulled", func(t *testing.T) {
		rec, err := p.Parse(prefix + `"GET / HTTP/1.1" 200 -5`)
		if err != nil {
			t.Fatal(err)
		}
		if rec.ResponseSize != nil {
			t.Errorf("size = %d, want nil", *rec.ResponseSize)
		}
		if len(rec.Degraded) != 1 || rec.Degraded[0].Field != FieldResponseSize {
			t.Errorf("degraded = %v", rec.Degraded)
		}
	})

	t.Run("out of range status flagged", func(t *testing.T) {
		rec, err := p.Parse(prefix + `"GET / HTTP/1.1" 999 1`)
		if err != nil {
			t.Fatal(err)
		}
		if rec.StatusCode != 999 || !rec.Flags.StatusOutOfRange {
			t.Errorf("status = %d flags = %+v", rec.StatusCode, rec.Flags)
		}
	})

	t.Run("unknown method passed through", func(t *testing.T) {
		rec, err := p.Parse(prefix + `"propfind /dav HTTP/1.1" 207 1`)
		if err != nil {
			t.Fatal(err)
		}
		if rec.Method() != "PROPFIND" || !rec.Flags.UnknownMethod {
			t.Errorf("method = %q flags = %+v", rec.Method(), rec.Flags)
		}
	})

	t.Run("binary request nulls method", func(t *testing.T) {
		rec, err := p.Parse(prefix + `"\x16\x03\x01\x00" 400 0`)
		if err != nil {
			t.Fatal(err)
		}
		if rec.RequestMethod != nil {
			t.Errorf("method = %q, want nil", rec.Method())
		}
		if len(rec.Degraded) != 1 || rec.Degraded[0].Field != FieldRequestMethod {
			t.Errorf("degraded = %v", rec.Degraded)
		}
	})

	t.Run("absent request", func(t *testing.T) {
		rec, err := p.Parse(prefix + `"-" 408 -`)
		if err != nil {
			t.Fatal(err)
		}
		if rec.RequestMethod != nil || rec.Resource != nil || len(rec.Degraded) != 0 {
			t.Errorf("unexpected request fields: %+v", rec)
		}
	})

	t.Run("long method nulled", func(t *testing.T) {
		rec, err := p.Parse(prefix + `"VERYLONGMETHOD / HTTP/1.1" 405 0`)
		if err != nil {
			t.Fatal(err)
		}
		if rec.RequestMethod != nil || rec.Path() != "/" {
			t.Errorf("method = %q resource = %q", rec.Method(), rec.Path())
		}
	})

	t.Run("signed status rejected", func(t *testing.T) {
		_, err := p.Parse(prefix + `"GET / HTTP/1.1" +200 1`)
		var fe *FieldError
		if !errors.As(err, &fe) || fe.Field != FieldStatusCode {
			t.Errorf("err = %v, want status_code field error", err)
		}
	})

	t.Run("signed size nulled", func(t *testing.T) {
		rec, err := p.Parse(prefix + `"GET / HTTP/1.1" 200 +5`)
		if err != nil {
			t.Fatal(err)
		}
		if rec.ResponseSize != nil {
			t.Errorf("size = %d, want nil", *rec.ResponseSize)
		}
		if len(rec.Degraded) != 1 || rec.Degraded[0].Field != FieldResponseSize {
			t.Errorf("degraded = %v", rec.Degraded)
		}
	})

	t.Run("missing target degrades resource", func(t *testing.T) {
		rec, err := p.Parse(prefix + `"GET HTTP/1.1" 400 0`)
		if err != nil {
			t.Fatal(err)
		}
		if rec.Method() != "GET" || rec.Resource != nil {
			t.Errorf("method = %q resource = %v", rec.Method(), rec.Resource)
		}
		if len(rec.Degraded) != 1 || rec.Degraded[0].Field != FieldResource {
			t.Errorf("degraded = %v", rec.Degraded)
		}
	})

	t.Run("invalid utf-8 dropped from resource", func(t *testing.T) {
		rec, err := p.Parse(prefix + "\"GET /caf\xe9/menu HTTP/1.1\" 200 1")
		if err != nil {
			t.Fatal(err)
		}
		if rec.Path() != "/caf/menu" || len(rec.Degraded) != 0 {
			t.Errorf("resource = %q degraded = %v", rec.Path(), rec.Degraded)
		}
	})

	t.Run("bad ip rejected", func(t *testing.T) {
		_, err := p.Parse(`999.1.1.1 - - [10/Oct/2023:13:55:36 -0700] "GET / HTTP/1.1" 200 1`)
		var fe *FieldError
		if !errors.As(err, &fe) || fe.Field != FieldIPAddress {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("bad timestamp rejected", func(t *testing.T) {
		_, err := p.Parse(`1.2.3.4 - - [2023-10-10 13:55:36] "GET / HTTP/1.1" 200 1`)
		var fe *FieldError
		if !errors.As(err, &fe) || fe.Field != FieldTimestamp {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("several errors reported together", func(t *testing.T) {
		_, err := p.Parse(`nope - - [bad] "GET / HTTP/1.1" xx -1`)
		var re *RejectError
		if !errors.As(err, &re) {
			t.Fatalf("err = %v", err)
		}
		if len(re.Errors) != 4 {
			t.Errorf("expected ip, timestamp, status and size errors, got %v", re.Errors)
		}
	})
}

func TestExtensionsFollowOptions(t *testing.T) {
	p := New(Options{Extensions: []string{ExtRemoteUser}})
	rec, err := p.Parse(`1.2.3.4 - alice [10/Oct/2023:13:55:36 -0700] "GET / HTTP/1.1" 200 1 "-" "ua"`)
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.Extensions) != 1 || rec.Extensions[ExtRemoteUser] != "alice" {
		t.Errorf("extensions = %v", rec.Extensions)
	}

	rec, err = New(Options{}).Parse(`1.2.3.4 - alice [10/Oct/2023:13:55:36 -0700] "GET / HTTP/1.1" 200 1`)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Extensions != nil {
		t.Errorf("no extensions configured, got %v", rec.Extensions)
	}
}

func TestTokenize(t *testing.T) {
	toks, err := Tokenize(`1.2.3.4 id user [ts here] "GET /a\"b HTTP/1.1" 200 1 "ref" "ua" "extra"`)
	if err != nil {
		t.Fatal(err)
	}
	if toks.Ident != "id" || toks.User != "user" || toks.Timestamp != "ts here" {
		t.Errorf("tokens = %+v", toks)
	}
	if toks.Request != `GET /a"b HTTP/1.1` {
		t.Errorf("request = %q", toks.Request)
	}
	if toks.Referrer != "ref" || toks.UserAgent != "ua" || toks.ReferrerMalformed || toks.UserAgentMalformed {
		t.Errorf("tail = %+v", toks)
	}

	for _, bad := range []string{"", "   ", `1.2.3.4 - - [ts] GET / 200 1`, `1.2.3.4 - - "GET /" 200 1`} {
		if _, err := Tokenize(bad); !errors.Is(err, ErrNoMatch) {
			t.Errorf("Tokenize(%q) err = %v, want ErrNoMatch", bad, err)
		}
	}
}
