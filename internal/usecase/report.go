package usecase

import (
	"fmt"
	"strings"

	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/domain"
)

// FormatReport renders the run summary posted to the notifier and the run log.
func FormatReport(r domain.RunReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run complete, %d scenes processed\n", r.Total())
	fmt.Fprintf(&b, "%d scenes successfully processed:\n", len(r.Succeeded))
	for _, s := range r.Succeeded {
		switch {
		case s.Skipped:
			fmt.Fprintf(&b, "- %s (already published)\n", s.SceneID)
		case s.OutputPath != "":
			fmt.Fprintf(&b, "- %s\n", s.OutputPath)
		default:
			fmt.Fprintf(&b, "- %s\n", s.SceneID)
		}
	}
	fmt.Fprintf(&b, "%d scenes FAILED:\n", len(r.Failed))
	for _, s := range r.Failed {
		fmt.Fprintf(&b, "- %s at %s: %v\n", s.SceneID, s.FailedAt, s.Err)
	}
	fmt.Fprintf(&b, "Elapsed time: %.2f minutes\n", r.Elapsed.Minutes())
	return b.String()
}
