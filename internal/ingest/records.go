package ingest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/cyra/logan/internal/parser"
)

// MaxLineLength bounds a single input line. Longer lines are drained and
// skipped with a TokenizeError wrapping ErrLineTooLong.
const MaxLineLength = 1 << 20

// ErrLineTooLong marks a line over MaxLineLength.
var ErrLineTooLong = errors.New("line exceeds maximum length")

// Result is the outcome for one input line. Exactly one of Record and Err
// is set, except for blank lines where both are nil.
type Result struct {
	Line   int
	Record *parser.LogRecord
	Err    error
}

// Blank reports whether the line was empty after trimming.
func (r Result) Blank() bool {
	return r.Record == nil && r.Err == nil
}

// LineError ties a skip reason to its 1-based line number.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// ReadError means the input itself could not be read past Line.
type ReadError struct {
	Line int
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read failed after line %d: %v", e.Line, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// Records lazily parses r line by line. Iteration stops early when the
// consumer returns false; a read failure is yielded once as a *ReadError
// and ends the sequence.
func Records(r io.Reader, p *parser.Parser) iter.Seq[Result] {
	return func(yield func(Result) bool) {
		br := bufio.NewReaderSize(r, 64*1024)

		n := 0
		for {
			line, tooLong, err := readLine(br)
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(Result{Line: n, Err: &ReadError{Line: n, Err: err}})
				return
			}
			n++

			if tooLong {
				te := &parser.TokenizeError{Line: n, Input: line, Err: ErrLineTooLong}
				if !yield(Result{Line: n, Err: &LineError{Line: n, Err: te}}) {
					return
				}
				continue
			}
			if strings.TrimSpace(line) == "" {
				if !yield(Result{Line: n}) {
					return
				}
				continue
			}

			rec, err := p.Parse(line)
			if err != nil {
				var te *parser.TokenizeError
				if errors.As(err, &te) {
					te.Line = n
				}
				err = &LineError{Line: n, Err: err}
			}
			if !yield(Result{Line: n, Record: rec, Err: err}) {
				return
			}
		}
	}
}

// readLine returns the next line without its terminator. A line over
// MaxLineLength is consumed to its end and reported with tooLong set and
// only a short prefix kept. io.EOF is returned only when no bytes remain.
func readLine(br *bufio.Reader) (line string, tooLong bool, err error) {
	var (
		buf     []byte
		started bool
	)
	for {
		chunk, more, rerr := br.ReadLine()
		if rerr != nil {
			if rerr == io.EOF && started {
				return string(buf), tooLong, nil
			}
			return "", false, rerr
		}
		started = true
		switch {
		case tooLong:
		case len(buf)+len(chunk) > MaxLineLength:
			tooLong = true
			buf = append(buf, chunk[:min(len(chunk), 128)]...)
			buf = buf[:min(len(buf), 128)]
		default:
			buf = append(buf, chunk...)
		}
		if !more {
			return string(buf), tooLong, nil
		}
	}
}
