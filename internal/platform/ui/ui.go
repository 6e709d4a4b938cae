package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pterm/pterm"
)

type Level string

const (
	LevelDebug   Level = "DEBUG"
	LevelInfo    Level = "INFO"
	LevelSuccess Level = "SUCCESS"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
)

var (
	mu      sync.Mutex
	started bool
)

func StartUISystem(title string) {
	mu.Lock()
	defer mu.Unlock()
	if started {
		return
	}
	started = true
	pterm.DefaultHeader.WithFullWidth().Println(title)
}

func StopUISystem() {
	mu.Lock()
	defer mu.Unlock()
	started = false
}

func DisableColor() { pterm.DisableColor() }

// PrintLine writes one console line per event. Lines from concurrent
// accounts never interleave.
func PrintLine(level Level, label, ip, msg string) {
	line := fmt.Sprintf("[%s] [%s@%s] %s", time.Now().Format("15:04:05"), label, ip, msg)

	mu.Lock()
	defer mu.Unlock()

	switch level {
	case LevelSuccess:
		pterm.Success.Println(line)
	case LevelWarning:
		pterm.Warning.Println(line)
	case LevelError:
		pterm.Error.Println(line)
	case LevelDebug:
		pterm.Debug.Println(line)
	default:
		pterm.Info.Println(line)
	}
}

// PrintSummary renders the per-outcome table followed by a single summary line.
func PrintSummary(header []string, rows [][]string, line string) error {
	mu.Lock()
	defer mu.Unlock()

	data := pterm.TableData{header}
	data = append(data, rows...)
	if err := pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(data).Render(); err != nil {
		return err
	}
	pterm.Info.Println(line)
	return nil
}

// PromptSecret asks for a value on the terminal without echoing it.
func PromptSecret(prompt string) (string, error) {
	mu.Lock()
	defer mu.Unlock()
	value, err := pterm.DefaultInteractiveTextInput.WithMask("*").Show(prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(value), nil
}

func FormatDelay(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d H %02d M %02d S", h, m, s)
}
