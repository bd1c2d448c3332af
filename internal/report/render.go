package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"
)

const barWidth = 50

var weekdays = [7]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

// Render writes a report result as aligned text.
func Render(w io.Writer, v any) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	switch r := v.(type) {
	case Stats:
		renderStats(tw, r)
	case []IPCount:
		fmt.Fprintln(tw, "IP ADDRESS\tREQUESTS")
		for _, c := range r {
			fmt.Fprintf(tw, "%s\t%d\n", c.IP, c.Requests)
		}
	case []StatusCount:
		fmt.Fprintln(tw, "STATUS\tCOUNT\tPERCENT")
		for _, c := range r {
			fmt.Fprintf(tw, "%d\t%d\t%.2f%%\n", c.Status, c.Count, c.Percent)
		}
	case []HourCount:
		renderHourly(tw, r)
	case []DayCount:
		fmt.Fprintln(tw, "DAY\tREQUESTS")
		for _, c := range r {
			fmt.Fprintf(tw, "%s\t%d\n", c.Day, c.Requests)
		}
	case []ResourceStat:
		fmt.Fprintln(tw, "RESOURCE\tREQUESTS\tAVG SIZE")
		for _, s := range r {
			fmt.Fprintf(tw, "%s\t%d\t%.0f\n", s.Resource, s.Requests, s.AvgSize)
		}
	case []ErrorStat:
		fmt.Fprintln(tw, "STATUS\tCOUNT\tSAMPLE RESOURCES")
		for _, e := range r {
			fmt.Fprintf(tw, "%d\t%d\t%s\n", e.Status, e.Count, strings.Join(e.Samples, ", "))
		}
	case *Heatmap:
		renderHeatmap(tw, r)
	case *Summary:
		renderStats(tw, r.Stats)
		for _, part := range []any{r.TopIPs, r.StatusCodes, r.Resources, r.Errors} {
			fmt.Fprintln(tw)
			if err := tw.Flush(); err != nil {
				return err
			}
			if err := Render(w, part); err != nil {
				return err
			}
		}
	case []Entry:
		fmt.Fprintln(tw, "ID\tTIMESTAMP\tIP ADDRESS\tMETHOD\tRESOURCE\tSTATUS\tSIZE")
		for _, e := range r {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
				e.ID, e.Timestamp.Format(time.RFC3339), e.IPAddress,
				orDash(e.RequestMethod), orDash(e.Resource), e.StatusCode, sizeOrDash(e.ResponseSize))
		}
	default:
		return fmt.Errorf("render: unsupported report type %T", v)
	}
	return tw.Flush()
}

func renderStats(w io.Writer, s Stats) {
	fmt.Fprintf(w, "Total records:\t%d\n", s.Total)
	fmt.Fprintf(w, "Unique IPs:\t%d\n", s.UniqueIPs)
	if s.Earliest != nil && s.Latest != nil {
		fmt.Fprintf(w, "Date range:\t%s to %s\n", s.Earliest.Format(time.RFC3339), s.Latest.Format(time.RFC3339))
	}
}

func renderHourly(w io.Writer, hours []HourCount) {
	var peak int64
	for _, h := range hours {
		peak = max(peak, h.Requests)
	}
	for _, h := range hours {
		n := 0
		if peak > 0 {
			n = int(h.Requests * barWidth / peak)
		}
		fmt.Fprintf(w, "%02d:00\t%s\t%d\n", h.Hour, strings.Repeat("#", n), h.Requests)
	}
}

func renderHeatmap(w io.Writer, hm *Heatmap) {
	fmt.Fprint(w, "DAY")
	for h := range 24 {
		fmt.Fprintf(w, "\t%02d", h)
	}
	fmt.Fprintln(w)
	for d, row := range hm {
		fmt.Fprint(w, weekdays[d])
		for _, n := range row {
			fmt.Fprintf(w, "\t%d", n)
		}
		fmt.Fprintln(w)
	}
}

func orDash(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func sizeOrDash(n *int64) string {
	if n == nil {
		return "-"
	}
	return fmt.Sprint(*n)
}
