package app

import (
	"fmt"

	"go.trai.ch/cratesync/internal/core/domain"
	"go.trai.ch/cratesync/internal/ui/style"
)

// report prints one line per failed item followed by the run totals.
func (a *App) report(mode domain.Mode, summary domain.Summary) {
	for _, o := range summary.Sorted() {
		if !o.Status.Failed() {
			continue
		}
		_, _ = fmt.Fprintf(a.out, "%s %s (%s, %d attempts): %v\n",
			style.Paint(style.Cross, style.Red), o.Identity, o.Status, o.Attempts, o.Err)
	}

	icon := style.Paint(style.Check, style.Green)
	if summary.Bad > 0 {
		icon = style.Paint(style.Cross, style.Red)
	}
	_, _ = fmt.Fprintf(a.out, "%s %s: %s good, %s bad, %s skipped, %s\n",
		icon,
		mode,
		style.Bold(fmt.Sprint(summary.Good)),
		style.Bold(fmt.Sprint(summary.Bad)),
		style.Paint(fmt.Sprint(summary.Skipped), style.Slate),
		formatBytes(summary.TotalBytes),
	)

	a.logger.Info(fmt.Sprintf("%s finished: good=%d bad=%d skipped=%d total_bytes=%d",
		mode, summary.Good, summary.Bad, summary.Skipped, summary.TotalBytes))
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
