package observability

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

var startTime = time.Now()

const (
	colorReset    = "\033[0m"
	colorPurple   = "\033[35m"
	colorNeonCyan = "\033[96m"
	colorNeonMag  = "\033[95m"
)

var radarFrames = []string{"◜", "◝", "◞", "◟"}

// termMu synchronizes ALL terminal output so that the cursor
// save/restore in Dashboard.Print can never be interrupted by a log write.
var termMu sync.Mutex

func termWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80
	}
	return w
}

// IsTerminal reports whether stdout is attached to a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// termWriter is a mutex-guarded io.Writer for log output.
type termWriter struct{}

func (tw termWriter) Write(p []byte) (n int, err error) {
	termMu.Lock()
	defer termMu.Unlock()
	return os.Stderr.Write(p)
}

func (tw termWriter) Sync() error {
	return nil
}

// NewTermWriter returns a writer that serialises with the dashboard via termMu.
func NewTermWriter() *termWriter {
	return &termWriter{}
}

func PrintBanner() {
	fmt.Print("\033[2J\033[H")

	banner := `
   _____                          ______     _     __
  / ___/_____________  ___  ____ / ____/_  _(_)___/ /__
  \__ \/ ___/ ___/ _ \/ _ \/ __ \ / __/ / / / / __  / _ \
 ___/ / /__/ /  /  __/  __/ / / / /_/ / /_/ / / /_/ /  __/
/____/\___/_/   \___/\___/_/ /_/\____/\__,_/_/\__,_/\___/

          >> STEP-BY-STEP SCREEN GUIDANCE <<
`

	width := termWidth()
	for _, l := range strings.Split(banner, "\n") {
		padding := (width - len(l)) / 2
		if padding < 0 {
			padding = 0
		}
		fmt.Printf("%s%s%s\n", strings.Repeat(" ", padding), colorNeonCyan+l, colorReset)
	}
}

func InitializeTerminal() {
	// Header 1-9, status 10, gap 11, scrolling logs 12+
	fmt.Print("\033[12;r")
	fmt.Print("\033[12;1H")
}

func CleanupTerminal() {
	fmt.Print("\033[r\033[2J\033[H")
}

// Dashboard renders the live status line for a Status.
type Dashboard struct {
	status   *Status
	radarIdx int
}

func NewDashboard(status *Status) *Dashboard {
	return &Dashboard{status: status}
}

// Line builds the status line without terminal positioning codes.
func (d *Dashboard) Line() string {
	uptime := time.Since(startTime).Round(time.Second)
	phase, task, polling, lastHB := d.status.Get()
	done, total := d.status.Progress()

	pulseIcon := "🔴"
	pulseText := "OFFLINE"
	pulseColor := colorNeonMag

	delta := time.Since(lastHB)
	if delta < 40*time.Second {
		pulseIcon = "🟢"
		pulseText = "HEALTHY"
		pulseColor = colorNeonCyan
	} else if delta < 90*time.Second {
		pulseIcon = "🟡"
		pulseText = "LAGGING"
		pulseColor = colorPurple
	}

	icon := "💤"
	phaseColor := colorReset
	switch phase {
	case PhaseInput:
		icon = "⌨️"
	case PhaseProcessing:
		icon = "⚙️"
		phaseColor = colorNeonMag
	case PhaseGuidance:
		icon = "🧭"
		phaseColor = colorNeonCyan
	}

	radar := " "
	if polling {
		radar = radarFrames[d.radarIdx]
		d.radarIdx = (d.radarIdx + 1) % len(radarFrames)
	}

	displayTask := task
	if displayTask == "" {
		displayTask = "Waiting..."
	}
	if len(displayTask) > 25 {
		displayTask = displayTask[:22] + "..."
	}

	return fmt.Sprintf(
		"%s[%s] %s%s %-10s%s | %s[%s%s %-10s%s] [%s] %s%s%s [%v] %s",
		colorReset,
		lastHB.Format("15:04:05"),
		pulseColor, pulseIcon, pulseText, colorReset,
		colorReset,
		phaseColor, icon, phase, colorReset,
		displayTask,
		colorPurple, radar, colorReset,
		uptime,
		progressBar(done, total),
	)
}

// progressBar draws completed steps out of total, e.g. [███▒▒▒ 3/6].
func progressBar(done, total int) string {
	if total == 0 {
		return "[no steps]"
	}
	const width = 12
	filled := clamp(done*width/total, 0, width)
	color := colorNeonMag
	if done == total {
		color = colorNeonCyan
	}
	return fmt.Sprintf("[%s%s%s%s %d/%d]", color,
		strings.Repeat("█", filled), strings.Repeat("▒", width-filled), colorReset, done, total)
}

// Print writes the status line into row 10 and restores the cursor.
func (d *Dashboard) Print() {
	line := "\033[s\033[10;1H\033[K" + d.Line() + "\033[u"

	termMu.Lock()
	fmt.Print(line)
	termMu.Unlock()
}
