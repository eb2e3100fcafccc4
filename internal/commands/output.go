package commands

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/colonyops/inbox/internal/core/notification"
	"github.com/colonyops/inbox/internal/core/notify"
)

// summary is the JSON line printed after a command or snapshot change.
type summary struct {
	UserID    string `json:"userId"`
	Unread    int    `json:"unread"`
	Items     int    `json:"items"`
	Complete  bool   `json:"complete"`
	Connected bool   `json:"connected"`
}

func summarize(s notification.Snapshot) summary {
	return summary{
		UserID:    s.Identity.UserID,
		Unread:    s.Unread,
		Items:     len(s.Items),
		Complete:  s.Complete,
		Connected: s.Connected,
	}
}

func writeItems(w io.Writer, items []notification.Notification, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, " \tID\tCATEGORY\tAGE\tTITLE")

	for _, n := range items {
		mark := " "
		if !n.IsRead {
			mark = "*"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", mark, n.ID, n.Category, age(now, n.CreatedAt), n.Title)
	}

	return tw.Flush()
}

func writeNotices(w io.Writer, notices []notify.Notice) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TIME\tLEVEL\tMESSAGE")

	for _, n := range notices {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", n.CreatedAt.Local().Format(time.DateTime), n.Level, n.Message)
	}

	return tw.Flush()
}

// age renders a compact relative time: now, 5m, 3h, 2d.
func age(now, t time.Time) string {
	if t.IsZero() {
		return "-"
	}

	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d/time.Hour))
	default:
		return fmt.Sprintf("%dd", int(d/(24*time.Hour)))
	}
}
