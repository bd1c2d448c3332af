package ingest

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"
)

// Summary is the outcome of one ingestion run.
type Summary struct {
	RunID  string
	Source string

	LinesRead int // including blank lines
	Blank     int
	Parsed    int // records accepted by the parser
	Stored    int // records committed by the sink
	Skipped   int
	Batches   int

	Degraded         int // accepted with at least one nulled field
	StatusOutOfRange int
	UnknownMethods   int

	// SkipReasons holds the first reasons in line order, up to the
	// configured limit.
	SkipReasons []*LineError

	Started  time.Time
	Duration time.Duration
}

func (s *Summary) addSkip(le *LineError, limit int) {
	s.Skipped++
	if len(s.SkipReasons) < limit {
		s.SkipReasons = append(s.SkipReasons, le)
	}
}

// Print writes a human-readable report to w.
func (s *Summary) Print(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Source:\t%s\n", s.Source)
	fmt.Fprintf(tw, "Run ID:\t%s\n", s.RunID)
	fmt.Fprintf(tw, "Lines read:\t%d\n", s.LinesRead)
	fmt.Fprintf(tw, "Blank lines:\t%d\n", s.Blank)
	fmt.Fprintf(tw, "Records parsed:\t%d\n", s.Parsed)
	fmt.Fprintf(tw, "Records stored:\t%d\n", s.Stored)
	fmt.Fprintf(tw, "Records skipped:\t%d\n", s.Skipped)
	if s.Degraded > 0 {
		fmt.Fprintf(tw, "Degraded records:\t%d\n", s.Degraded)
	}
	if s.StatusOutOfRange > 0 {
		fmt.Fprintf(tw, "Out-of-range statuses:\t%d\n", s.StatusOutOfRange)
	}
	if s.UnknownMethods > 0 {
		fmt.Fprintf(tw, "Unknown methods:\t%d\n", s.UnknownMethods)
	}
	fmt.Fprintf(tw, "Duration:\t%s\n", s.Duration.Round(time.Millisecond))
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(s.SkipReasons) == 0 {
		return nil
	}
	header := "Skip reasons:"
	if s.Skipped > len(s.SkipReasons) {
		header = fmt.Sprintf("First %d skip reasons:", len(s.SkipReasons))
	}
	if _, err := fmt.Fprintln(w, header); err != nil {
		return err
	}
	for _, le := range s.SkipReasons {
		if _, err := fmt.Fprintf(w, "  %s\n", le); err != nil {
			return err
		}
	}
	return nil
}
