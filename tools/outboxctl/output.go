package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/md-rashed-zaman/eventrelay/libs/outbox"
)

type pendingRow struct {
	ID        string    `json:"id"`
	EventType string    `json:"eventType"`
	CreatedAt time.Time `json:"createdAt"`
	Age       string    `json:"age"`
	Bytes     int       `json:"bytes"`
}

func pendingRows(evts []outbox.Event, now time.Time) []pendingRow {
	rows := make([]pendingRow, 0, len(evts))
	for _, e := range evts {
		rows = append(rows, pendingRow{
			ID:        e.ID.String(),
			EventType: e.EventType,
			CreatedAt: e.CreatedAt,
			Age:       now.Sub(e.CreatedAt).Truncate(time.Second).String(),
			Bytes:     len(e.Payload),
		})
	}
	return rows
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func printPendingTable(out io.Writer, rows []pendingRow) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tCREATED\tAGE\tBYTES")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", r.ID, r.EventType, r.CreatedAt.Format("2006-01-02 15:04:05"), r.Age, r.Bytes)
	}
	w.Flush()
	fmt.Fprintf(out, "\n%d pending\n", len(rows))
}
