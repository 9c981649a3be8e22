package components

import (
	"fmt"
	"strings"
	"time"

	"github.com/lucid-softworks/akari/internal/health"
)

var healthStatus = map[string]string{
	health.StatusReady:    "success",
	health.StatusDegraded: "warning",
	health.StatusOffline:  "error",
	health.StatusError:    "error",
	health.StatusSkipped:  "info",
}

// RenderHealth formats a probe report: one line per check, then the overall
// verdict.
func RenderHealth(r *health.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s%s\n", labelStyle.Render("service"), r.Service)

	for _, c := range r.Checks {
		msg := c.Status
		if c.Status != health.StatusSkipped {
			msg += fmt.Sprintf(" (%s)", c.ResponseTime.Round(time.Millisecond))
		}
		if c.ErrorType != "" {
			msg += ": " + c.ErrorType
		}
		b.WriteString(labelStyle.Render(string(c.Check)))
		b.WriteString(RenderStatus(healthStatus[c.Status], msg))
		b.WriteByte('\n')
	}

	if r.Server != nil && r.Server.DID != "" {
		fmt.Fprintf(&b, "%s%s\n", labelStyle.Render("server"), r.Server.DID)
	}
	if r.Account != nil {
		fmt.Fprintf(&b, "%s%s\n", labelStyle.Render("account"), r.Account.Handle)
	}

	overall := r.Overall
	if r.Error != "" {
		overall += ": " + r.Error
	}
	b.WriteString(labelStyle.Render("overall"))
	b.WriteString(RenderStatus(healthStatus[r.Overall], overall))
	return b.String()
}
