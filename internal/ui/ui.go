package ui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/doridoridoriand/netmon/internal/config"
	"github.com/doridoridoriand/netmon/internal/state"
	"github.com/gdamore/tcell/v2"
)

const (
	uiRefreshInterval = 500 * time.Millisecond
	minBoxHeight      = 4
	defaultGroup      = "default"
)

// UI renders a TUI view of target status.
type UI struct {
	cfg   config.GlobalOptions
	state state.Store

	paused bool
	frozen []state.TargetStatus
}

// New returns a UI instance.
func New(cfg config.GlobalOptions, store state.Store) *UI {
	return &UI{cfg: cfg, state: store}
}

// Run blocks until the context is cancelled or the user quits.
// Keys: q or Ctrl-C quits, p pauses the display, r redraws.
func (u *UI) Run(ctx context.Context) error {
	screen, err := tcell.NewScreen()
	if err != nil {
		return err
	}
	if err := screen.Init(); err != nil {
		return err
	}
	screen.HideCursor()
	defer screen.Fini()

	events := make(chan tcell.Event, 1)
	go func() {
		for {
			ev := screen.PollEvent()
			if ev == nil {
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(uiRefreshInterval)
	defer ticker.Stop()

	u.render(screen, u.snapshot())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-events:
			switch ev := ev.(type) {
			case *tcell.EventKey:
				if u.handleKey(ev) {
					return context.Canceled
				}
				u.render(screen, u.snapshot())
			case *tcell.EventResize:
				screen.Sync()
				u.render(screen, u.snapshot())
			}
		case <-ticker.C:
			u.render(screen, u.snapshot())
		}
	}
}

// handleKey applies a key press and reports whether the UI should exit.
func (u *UI) handleKey(ev *tcell.EventKey) bool {
	if ev.Key() == tcell.KeyCtrlC || ev.Key() == tcell.KeyEscape {
		return true
	}
	switch ev.Rune() {
	case 'q', 'Q':
		return true
	case 'p', 'P':
		u.togglePause()
	}
	return false
}

func (u *UI) togglePause() {
	u.paused = !u.paused
	if u.paused {
		u.frozen = u.state.GetSnapshot()
	} else {
		u.frozen = nil
	}
}

func (u *UI) snapshot() []state.TargetStatus {
	if u.paused {
		return u.frozen
	}
	return u.state.GetSnapshot()
}

func (u *UI) render(screen tcell.Screen, snapshot []state.TargetStatus) {
	screen.Clear()
	width, height := screen.Size()
	if width < 20 || height < 5 {
		screen.Show()
		return
	}

	header := fmt.Sprintf(" netmon  %s  %s", time.Now().Format("2006-01-02 15:04:05"), summarize(snapshot))
	if u.paused {
		header += "  [paused]"
	}
	drawText(screen, 0, 0, width, header, tcell.StyleDefault.Bold(true))
	drawText(screen, 0, 1, width, formatConfigInfo(u.cfg, len(snapshot)), tcell.StyleDefault.Foreground(tcell.ColorGray))

	y := 2
	for _, group := range groupTargets(snapshot) {
		if height-y < minBoxHeight {
			break
		}
		boxHeight := len(group.Targets) + 3
		if boxHeight > height-y {
			boxHeight = height - y
		}
		u.drawGroup(screen, y, width, boxHeight, group)
		y += boxHeight
	}
	if y < height {
		drawText(screen, 0, height-1, width, " q quit  p pause  r redraw", tcell.StyleDefault.Foreground(tcell.ColorGray))
	}
	screen.Show()
}

// summarize counts targets per status for the header.
func summarize(snapshot []state.TargetStatus) string {
	counts := make(map[state.Status]int)
	for _, ts := range snapshot {
		counts[ts.Status]++
	}
	return fmt.Sprintf("OK:%d FAULT:%d ERROR:%d UNKNOWN:%d",
		counts[state.StatusOK], counts[state.StatusFault], counts[state.StatusError], counts[state.StatusUnknown])
}

type targetGroup struct {
	Name    string
	Targets []state.TargetStatus
}

// groupTargets buckets targets by group. Ungrouped targets go to "default", which sorts
// first; the rest sort by name.
func groupTargets(snapshot []state.TargetStatus) []targetGroup {
	byName := make(map[string][]state.TargetStatus)
	for _, ts := range snapshot {
		name := strings.TrimSpace(ts.Group)
		if name == "" {
			name = defaultGroup
		}
		byName[name] = append(byName[name], ts)
	}

	groups := make([]targetGroup, 0, len(byName))
	for name, targets := range byName {
		sort.SliceStable(targets, func(i, j int) bool { return targets[i].Name < targets[j].Name })
		groups = append(groups, targetGroup{Name: name, Targets: targets})
	}
	sort.Slice(groups, func(i, j int) bool {
		if (groups[i].Name == defaultGroup) != (groups[j].Name == defaultGroup) {
			return groups[i].Name == defaultGroup
		}
		return groups[i].Name < groups[j].Name
	})
	return groups
}

func (u *UI) drawGroup(screen tcell.Screen, y, width, height int, group targetGroup) {
	drawBox(screen, 0, y, width, height)
	drawText(screen, 2, y, width-4, " "+group.Name+" ", tcell.StyleDefault.Bold(true))
	if height <= 2 {
		return
	}

	inner := width - 2
	drawStyledText(screen, 1, y+1, inner, headerLine(inner))
	rows := height - 3
	for i := 0; i < len(group.Targets) && i < rows; i++ {
		drawStyledText(screen, 1, y+2+i, inner, u.formatTargetLine(inner, group.Targets[i]))
	}
}

func formatConfigInfo(cfg config.GlobalOptions, targets int) string {
	metrics := cfg.MetricsListen
	if metrics == "" {
		metrics = "off"
	}
	history := cfg.HistoryPath
	if history == "" {
		history = "off"
	}
	return fmt.Sprintf(" targets=%d  metrics=%s  history=%s  ui.scale=%dms",
		targets, metrics, history, cfg.UIScale)
}
