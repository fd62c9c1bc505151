/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"fmt"
)

// humanReadableSize formats a response length for SERVE log lines.
func humanReadableSize(written int) string {
	const unit = 1000

	if written < unit {
		return fmt.Sprintf("%d B", written)
	}

	div, exp := unit, 0
	for n := written / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %cB", float64(written)/float64(div), "kMGTPE"[exp])
}
