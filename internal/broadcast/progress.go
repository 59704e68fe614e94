package broadcast

import "strings"

const barSegments = 10

// RenderBar draws a fixed-width progress bar. Quantization always rounds
// down, so the bar only fills completely when the run is actually done.
func RenderBar(done, total int64) string {
	filled := 0
	if total > 0 {
		filled = int(done * barSegments / total)
	}
	if filled > barSegments {
		filled = barSegments
	}
	var b strings.Builder
	b.WriteString(strings.Repeat("█", filled))
	b.WriteString(strings.Repeat("░", barSegments-filled))
	return b.String()
}
