package parser

import "time"

// Extension keys for optional fields kept outside the fixed columns.
const (
	ExtProtocol   = "protocol"
	ExtReferrer   = "referrer"
	ExtUserAgent  = "user_agent"
	ExtRemoteUser = "remote_user"
	ExtIdent      = "ident"
)

// LogRecord is one accepted access log line. Records are built once by
// Build and treated as read-only values afterwards. request_time is not
// part of the record: sinks stamp it at insert.
type LogRecord struct {
	IPAddress     string
	Timestamp     time.Time
	RequestMethod *string
	Resource      *string
	StatusCode    int
	ResponseSize  *int64

	// Extensions carries optional fields by name, e.g. "user_agent".
	Extensions map[string]string

	// Degraded lists non-fatal field errors whose values were nulled.
	Degraded []*FieldError
	Flags    Flags
}

// Flags marks accepted values that are unusual enough to count in statistics.
type Flags struct {
	StatusOutOfRange bool
	UnknownMethod    bool
}

// Method returns the request method or "" when absent.
func (r *LogRecord) Method() string {
	if r.RequestMethod == nil {
		return ""
	}
	return *r.RequestMethod
}

// Path returns the requested resource or "" when absent.
func (r *LogRecord) Path() string {
	if r.Resource == nil {
		return ""
	}
	return *r.Resource
}

// Build decides whether normalized fields become a record. A line is
// accepted only when ip_address, timestamp and status_code normalized
// without error; other field errors are attached as Degraded. On
// rejection the full error list is returned.
func Build(f *Fields, errs []*FieldError, keep []string) (*LogRecord, []*FieldError) {
	for _, fe := range errs {
		if fe.Field.required() {
			return nil, errs
		}
	}

	rec := &LogRecord{
		IPAddress:     f.IPAddress,
		Timestamp:     f.Timestamp,
		RequestMethod: f.RequestMethod,
		Resource:      f.Resource,
		StatusCode:    f.StatusCode,
		ResponseSize:  f.ResponseSize,
		Degraded:      errs,
		Flags: Flags{
			StatusOutOfRange: f.StatusOutOfRange,
			UnknownMethod:    f.UnknownMethod,
		},
	}

	for _, key := range keep {
		var v string
		switch key {
		case ExtProtocol:
			v = f.Protocol
		case ExtReferrer:
			v = f.Referrer
		case ExtUserAgent:
			v = f.UserAgent
		case ExtRemoteUser:
			v = f.RemoteUser
		case ExtIdent:
			v = f.Ident
		}
		if v == "" {
			continue
		}
		if rec.Extensions == nil {
			rec.Extensions = make(map[string]string, len(keep))
		}
		rec.Extensions[key] = v
	}

	return rec, nil
}
