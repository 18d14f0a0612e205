package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"opsplane/pkg/api"

	"github.com/spf13/cobra"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

func statusIcon(status string) string {
	switch status {
	case "COMPLETED":
		return colorGreen + "✓" + colorReset
	case "ERROR", "INVALID", "UNAUTHORIZED":
		return colorRed + "✗" + colorReset
	case "IN_PROGRESS":
		return colorYellow + "⏳" + colorReset
	case "PENDING", "NOTNOW":
		return colorCyan + "◯" + colorReset
	case "REPEATED":
		return colorDim + "↻" + colorReset
	default:
		return "•"
	}
}

func statusColor(status string) string {
	switch status {
	case "COMPLETED":
		return colorGreen
	case "ERROR", "INVALID", "UNAUTHORIZED":
		return colorRed
	case "IN_PROGRESS":
		return colorYellow
	case "PENDING", "NOTNOW":
		return colorCyan
	default:
		return ""
	}
}

func colorizeStatus(status string) string {
	color := statusColor(status)
	if color == "" {
		return status
	}
	return statusIcon(status) + " " + color + status + colorReset
}

func formatTimeWithRelative(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	relative := relativeTime(*t)
	return fmt.Sprintf("%s %s(%s ago)%s", t.Format("Mon, 02 Jan 2006 15:04:05 MST"), colorDim, relative, colorReset)
}

func relativeTime(t time.Time) string {
	duration := time.Since(t)

	if duration < time.Minute {
		return fmt.Sprintf("%ds", int(duration.Seconds()))
	} else if duration < time.Hour {
		return fmt.Sprintf("%dm", int(duration.Minutes()))
	} else if duration < 24*time.Hour {
		return fmt.Sprintf("%dh", int(duration.Hours()))
	} else {
		days := int(duration.Hours() / 24)
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
}

func printOperation(cmd *cobra.Command, op api.OperationResponse) {
	cmd.Printf("%s %sOperation %d%s\n", statusIcon(op.Status), colorBold, op.ID, colorReset)
	cmd.Println("──────────────────────────────")
	cmd.Printf("%sActivity:%s    %s\n", colorDim, colorReset, op.ActivityID)
	cmd.Printf("%sCode:%s        %s\n", colorDim, colorReset, op.Code)
	cmd.Printf("%sType:%s        %s\n", colorDim, colorReset, op.Type)
	cmd.Printf("%sControl:%s     %s\n", colorDim, colorReset, op.Control)
	if op.Status != "" {
		cmd.Printf("%sStatus:%s      %s\n", colorDim, colorReset, colorizeStatus(op.Status))
		cmd.Printf("%sUpdated:%s     %s\n", colorDim, colorReset, formatTimeWithRelative(op.StatusUpdatedAt))
	}
	cmd.Printf("%sBy:%s          %s\n", colorDim, colorReset, op.InitiatedBy)
	cmd.Printf("%sCreated:%s     %s\n", colorDim, colorReset, formatTimeWithRelative(&op.CreatedAt))
	if len(op.Payload) > 0 {
		cmd.Printf("%sPayload:%s     %s\n", colorDim, colorReset, compact(op.Payload))
	}
}

func printOperationLine(cmd *cobra.Command, op api.OperationResponse) {
	cmd.Printf("%-8d %-20s %-10s %s\n", op.ID, op.Code, op.Type, colorizeStatus(op.Status))
}

func printActivity(cmd *cobra.Command, a api.ActivityResponse) {
	if a.ActivityID == "" {
		cmd.Printf("%sNo device was queued for %s%s\n", colorYellow, a.Code, colorReset)
	} else {
		cmd.Printf("%s%s%s %s (%s) by %s\n", colorBold, a.ActivityID, colorReset, a.Code, a.Type, a.InitiatedBy)
	}
	for _, s := range a.Statuses {
		cmd.Printf("  %s/%s  %s", s.Device.Type, s.Device.ID, colorizeStatus(s.Status))
		if s.UpdatedAt != nil {
			cmd.Printf("  %s", formatTimeWithRelative(s.UpdatedAt))
		}
		cmd.Println()
		for _, r := range s.Responses {
			cmd.Printf("    %s↳%s %s\n", colorDim, colorReset, compact(r.Payload))
		}
	}
}

func compact(raw json.RawMessage) string {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, _ := json.Marshal(v)
	return string(out)
}
