package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/cyra/logan/internal/config"
	"github.com/cyra/logan/internal/logging"
	"github.com/cyra/logan/internal/parser"
	"github.com/cyra/logan/internal/sink"
)

const good = `127.0.0.1 - - [10/Oct/2023:13:55:36 -0700] "GET /index.html HTTP/1.1" 200 2326 "-" "Mozilla/5.0"`

// memSink stores copies of inserted records and can fail on a given call.
type memSink struct {
	rows    []parser.LogRecord
	batches []int
	failOn  int // 1-based Insert call that fails; 0 never
	calls   int
}

func (m *memSink) Name() string { return "memory" }

func (m *memSink) Insert(_ context.Context, batch []parser.LogRecord) error {
	m.calls++
	if m.calls == m.failOn {
		return errors.New("connection refused")
	}
	m.rows = append(m.rows, batch...)
	m.batches = append(m.batches, len(batch))
	return nil
}

func (m *memSink) Close() error { return nil }

type stringOpener map[string]string

func (o stringOpener) Open(_ context.Context, name string) (io.ReadCloser, error) {
	s, ok := o[name]
	if !ok {
		return nil, errors.New("no such input")
	}
	return io.NopCloser(strings.NewReader(s)), nil
}

func newDriver(s sink.Sink, batchSize int, in stringOpener) *Driver {
	cfg := config.Default()
	cfg.Ingest.BatchSize = batchSize
	cfg.Ingest.MaxSkipReasons = 2
	return New(cfg, s, in, logging.Discard())
}

func mixedInput() string {
	return strings.Join([]string{
		good,
		"malformed garbage line",
		good,
		"",
		`10.0.0.1 - - [10/Oct/2023:13:55:36 -0700] "GET / HTTP/1.1" abc 10 "-" "-"`,
		good,
		"another bad one",
		`10.0.0.2 - - [10/Oct/2023:13:55:36 -0700] "BREW /pot HTTP/1.1" 700 - "-" "-"`,
	}, "\n") + "\n"
}

func TestRunCountsAndStores(t *testing.T) {
	m := &memSink{}
	d := newDriver(m, 2, stringOpener{"a.log": mixedInput()})

	sum, err := d.Run(context.Background(), "a.log")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// 8 lines: 1 blank, 3 garbage-or-rejected, 4 accepted
	if sum.LinesRead != 8 || sum.Blank != 1 {
		t.Errorf("lines=%d blank=%d", sum.LinesRead, sum.Blank)
	}
	if sum.Parsed != 4 || sum.Stored != 4 || len(m.rows) != 4 {
		t.Errorf("parsed=%d stored=%d rows=%d, want 4", sum.Parsed, sum.Stored, len(m.rows))
	}
	if sum.Skipped != 3 {
		t.Errorf("skipped = %d, want 3", sum.Skipped)
	}
	if len(sum.SkipReasons) != 2 {
		t.Fatalf("skip reasons = %d, want first 2", len(sum.SkipReasons))
	}
	if sum.SkipReasons[0].Line != 2 || sum.SkipReasons[1].Line != 5 {
		t.Errorf("reason lines = %d, %d", sum.SkipReasons[0].Line, sum.SkipReasons[1].Line)
	}
	if !errors.Is(sum.SkipReasons[0], parser.ErrNoMatch) {
		t.Errorf("first reason = %v, want tokenize error", sum.SkipReasons[0])
	}
	var fe *parser.FieldError
	if !errors.As(sum.SkipReasons[1], &fe) || fe.Field != parser.FieldStatusCode {
		t.Errorf("second reason = %v, want status_code field error", sum.SkipReasons[1])
	}
	if sum.StatusOutOfRange != 1 || sum.UnknownMethods != 1 {
		t.Errorf("flags: out-of-range=%d unknown=%d", sum.StatusOutOfRange, sum.UnknownMethods)
	}

	if got := m.batches; len(got) != 2 || got[0] != 2 || got[1] != 2 {
		t.Errorf("batches = %v, want [2 2]", got)
	}
	if m.rows[3].IPAddress != "10.0.0.2" {
		t.Errorf("records out of order: last ip %s", m.rows[3].IPAddress)
	}
	if sum.RunID == "" {
		t.Error("missing run id")
	}
}

func TestRunIsDeterministic(t *testing.T) {
	in := stringOpener{"a.log": mixedInput()}
	var reasons [2][]string
	for i := range reasons {
		sum, err := newDriver(&memSink{}, 3, in).Run(context.Background(), "a.log")
		if err != nil {
			t.Fatal(err)
		}
		for _, r := range sum.SkipReasons {
			reasons[i] = append(reasons[i], r.Error())
		}
		if sum.Stored != 4 || sum.Skipped != 3 {
			t.Errorf("run %d: stored=%d skipped=%d", i, sum.Stored, sum.Skipped)
		}
	}
	if strings.Join(reasons[0], "|") != strings.Join(reasons[1], "|") {
		t.Errorf("reasons differ:\n%v\n%v", reasons[0], reasons[1])
	}
}

func TestRunGarbageOnly(t *testing.T) {
	m := &memSink{}
	sum, err := newDriver(m, 10, stringOpener{"g": "malformed garbage line\n"}).Run(context.Background(), "g")
	if err != nil {
		t.Fatal(err)
	}
	if sum.Stored != 0 || sum.Skipped != 1 || m.calls != 0 {
		t.Errorf("stored=%d skipped=%d insert calls=%d", sum.Stored, sum.Skipped, m.calls)
	}
	var te *parser.TokenizeError
	if !errors.As(sum.SkipReasons[0], &te) || te.Line != 1 {
		t.Errorf("reason = %v, want tokenize error on line 1", sum.SkipReasons[0])
	}
}

func TestRunSinkFailure(t *testing.T) {
	var lines []string
	for range 5 {
		lines = append(lines, good)
	}
	m := &memSink{failOn: 2}
	d := newDriver(m, 2, stringOpener{"a": strings.Join(lines, "\n")})

	sum, err := d.Run(context.Background(), "a")
	var se *sink.Error
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *sink.Error", err)
	}
	if se.Persisted != 2 || sum.Stored != 2 {
		t.Errorf("persisted=%d stored=%d, want 2", se.Persisted, sum.Stored)
	}
	if m.calls != 2 {
		t.Errorf("insert calls = %d, run should stop at the failure", m.calls)
	}
}

func TestRunOpenError(t *testing.T) {
	sum, err := newDriver(&memSink{}, 10, stringOpener{}).Run(context.Background(), "missing")
	if err == nil || sum != nil {
		t.Errorf("sum=%v err=%v, want open error", sum, err)
	}
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := &memSink{}
	_, err := newDriver(m, 1, stringOpener{"a": good + "\n"}).Run(ctx, "a")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if len(m.rows) != 0 {
		t.Errorf("stored %d rows after cancel", len(m.rows))
	}
}

func TestRunAllStopsAtFirstError(t *testing.T) {
	in := stringOpener{"a": good + "\n", "b": good + "\n" + good + "\n"}
	m := &memSink{}
	sums, err := newDriver(m, 10, in).RunAll(context.Background(), []string{"a", "missing", "b"})
	if err == nil {
		t.Fatal("expected error for missing input")
	}
	if len(sums) != 1 || len(m.rows) != 1 {
		t.Errorf("summaries=%d rows=%d, want 1 each", len(sums), len(m.rows))
	}
}

// failingReader returns data and then a non-EOF error.
type failingReader struct {
	data io.Reader
}

func (f *failingReader) Read(p []byte) (int, error) {
	n, err := f.data.Read(p)
	if err == io.EOF {
		return n, errors.New("disk read error")
	}
	return n, err
}

func TestRecordsSkipsOverlongLine(t *testing.T) {
	long := strings.Repeat("x", MaxLineLength+10)
	var results []Result
	for res := range Records(strings.NewReader(good+"\n"+long+"\n"+good+"\n"), parser.New(parser.Options{})) {
		results = append(results, res)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	if results[0].Record == nil || results[2].Record == nil {
		t.Errorf("lines around the long one should parse: %+v", results)
	}
	var te *parser.TokenizeError
	if !errors.As(results[1].Err, &te) || !errors.Is(results[1].Err, ErrLineTooLong) || te.Line != 2 {
		t.Fatalf("line 2 err = %v, want TokenizeError wrapping ErrLineTooLong", results[1].Err)
	}
	if len(te.Input) > 128 {
		t.Errorf("input copy not truncated: %d bytes", len(te.Input))
	}
}

func TestRecordsReadError(t *testing.T) {
	var last Result
	n := 0
	for res := range Records(&failingReader{data: strings.NewReader(good + "\n")}, parser.New(parser.Options{})) {
		last = res
		n++
	}
	var re *ReadError
	if !errors.As(last.Err, &re) || re.Line != 1 {
		t.Errorf("last = %+v, want ReadError after line 1", last)
	}
	if n != 2 {
		t.Errorf("results = %d, want 2", n)
	}
}

func TestRecordsLastLineWithoutNewline(t *testing.T) {
	n := 0
	for res := range Records(strings.NewReader(good+"\r\n"+good), parser.New(parser.Options{})) {
		if res.Record == nil {
			t.Errorf("line %d: %v", res.Line, res.Err)
		}
		n++
	}
	if n != 2 {
		t.Errorf("results = %d, want 2", n)
	}
}

func TestRunOverlongLineIsSkipped(t *testing.T) {
	long := strings.Repeat("x", MaxLineLength+10)
	m := &memSink{}
	sum, err := newDriver(m, 1000, stringOpener{"a": good + "\n" + long + "\n" + good + "\n"}).Run(context.Background(), "a")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.LinesRead != 3 || sum.Stored != 2 || sum.Skipped != 1 || len(m.rows) != 2 {
		t.Errorf("lines=%d stored=%d skipped=%d rows=%d, want 3/2/1/2", sum.LinesRead, sum.Stored, sum.Skipped, len(m.rows))
	}
}

func TestRunReadErrorFlushesPending(t *testing.T) {
	m := &memSink{}
	d := newDriver(m, 1000, nil)
	sum, err := d.Ingest(context.Background(), "broken", &failingReader{data: strings.NewReader(good + "\n" + good + "\n")})
	var re *ReadError
	if !errors.As(err, &re) {
		t.Fatalf("err = %v, want ReadError", err)
	}
	if sum.Parsed != 2 || sum.Stored != 2 || len(m.rows) != 2 {
		t.Errorf("parsed=%d stored=%d rows=%d, want 2 each", sum.Parsed, sum.Stored, len(m.rows))
	}
}

func TestRecordsStopsEarly(t *testing.T) {
	n := 0
	for range Records(strings.NewReader(good+"\n"+good+"\n"+good+"\n"), parser.New(parser.Options{})) {
		n++
		if n == 2 {
			break
		}
	}
	if n != 2 {
		t.Errorf("n = %d", n)
	}
}

func TestSummaryPrint(t *testing.T) {
	sum := &Summary{
		Source:    "access.log",
		LinesRead: 3,
		Stored:    1,
		Skipped:   2,
		SkipReasons: []*LineError{
			{Line: 2, Err: errors.New("bad")},
		},
	}
	var buf bytes.Buffer
	if err := sum.Print(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Records stored:", "Records skipped:", "First 1 skip reasons:", "line 2: bad"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
