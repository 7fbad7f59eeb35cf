package skills

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// SystemInfo answers date/time and machine load questions.
type SystemInfo struct {
	// ProcRoot is where the proc filesystem is mounted. Defaults to
	// /proc; tests point it at a fixture directory.
	ProcRoot string
	Now      func() time.Time
}

// Load is a snapshot of machine load.
type Load struct {
	CPUs         int
	Load1        float64
	Load5        float64
	Load15       float64
	MemTotal     uint64
	MemAvailable uint64
}

// MemUsedPercent returns used memory as a percentage of total.
func (l Load) MemUsedPercent() float64 {
	if l.MemTotal == 0 {
		return 0
	}
	return float64(l.MemTotal-l.MemAvailable) / float64(l.MemTotal) * 100
}

func (s *SystemInfo) procRoot() string {
	if s.ProcRoot == "" {
		return "/proc"
	}
	return s.ProcRoot
}

// CurrentTime returns the local time formatted for the user.
func (s *SystemInfo) CurrentTime() string {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return now().Format("2006-01-02 15:04:05 MST")
}

// ReadLoad gathers load averages and memory figures from the proc
// filesystem. Where it is unavailable only CPUs is filled in.
func (s *SystemInfo) ReadLoad() (Load, error) {
	l := Load{CPUs: runtime.NumCPU()}

	if data, err := os.ReadFile(filepath.Join(s.procRoot(), "loadavg")); err == nil {
		f := strings.Fields(string(data))
		if len(f) >= 3 {
			l.Load1, _ = strconv.ParseFloat(f[0], 64)
			l.Load5, _ = strconv.ParseFloat(f[1], 64)
			l.Load15, _ = strconv.ParseFloat(f[2], 64)
		}
	} else if !os.IsNotExist(err) {
		return l, fmt.Errorf("read loadavg: %w", err)
	}

	f, err := os.Open(filepath.Join(s.procRoot(), "meminfo"))
	if os.IsNotExist(err) {
		return l, nil
	}
	if err != nil {
		return l, fmt.Errorf("read meminfo: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key, rest, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			continue
		}
		kb, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			continue
		}
		switch key {
		case "MemTotal":
			l.MemTotal = kb * 1024
		case "MemAvailable":
			l.MemAvailable = kb * 1024
		}
	}
	return l, sc.Err()
}

// Describe renders a load snapshot as one line.
func (l Load) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d CPUs", l.CPUs)
	if l.Load1 > 0 || l.Load5 > 0 || l.Load15 > 0 {
		fmt.Fprintf(&b, ", load average %.2f %.2f %.2f", l.Load1, l.Load5, l.Load15)
	}
	if l.MemTotal > 0 {
		fmt.Fprintf(&b, ", memory %s of %s used (%.0f%%)",
			humanize.IBytes(l.MemTotal-l.MemAvailable), humanize.IBytes(l.MemTotal), l.MemUsedPercent())
	}
	return b.String()
}

// Skills returns get_current_datetime and get_system_load.
func (s *SystemInfo) Skills() []*Skill {
	return []*Skill{
		{
			Name:        "get_current_datetime",
			Description: "Get the current local date and time.",
			Handler: func(context.Context, map[string]any) (string, error) {
				return "The current date and time is " + s.CurrentTime(), nil
			},
		},
		{
			Name:        "get_system_load",
			Description: "Get CPU load and memory usage of this computer.",
			Handler: func(context.Context, map[string]any) (string, error) {
				l, err := s.ReadLoad()
				if err != nil {
					return "", err
				}
				return "System load: " + l.Describe() + ".", nil
			},
		},
	}
}
