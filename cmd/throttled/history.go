package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"jobthrottle/internal/storage"
)

func writeHistory(w io.Writer, outs []storage.Outcome) {
	writeHistoryAt(w, outs, time.Now())
}

// writeHistoryAt renders outcomes as a table with times relative to now.
func writeHistoryAt(w io.Writer, outs []storage.Outcome, now time.Time) {
	if len(outs) == 0 {
		fmt.Fprintln(w, "no outcomes recorded")
		return
	}
	counts := map[string]int{}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tJOB\tID\tPRIO\tSTATE\tWAITED\tTOOK\tDETAIL")
	for _, o := range outs {
		counts[o.State]++
		name := o.Name
		if name == "" {
			name = "-"
		}
		detail := o.Error
		if detail == "" {
			detail = o.Reason
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			humanize.RelTime(o.At, now, "ago", "from now"),
			name,
			humanize.Comma(int64(o.JobID)),
			o.Priority,
			o.State,
			o.QueueDelay.Round(time.Millisecond),
			o.Duration.Round(time.Millisecond),
			detail,
		)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "%s outcomes: %d finished, %d failed, %d dropped, %d rejected\n",
		humanize.Comma(int64(len(outs))),
		counts["finished"], counts["failed"], counts["dropped"], counts["rejected"],
	)
}
