package schedule

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/eliteGoblin/focusd/app_block/internal/domain"
)

const fileVersion = 1

var dayNames = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

type fileSchema struct {
	Version   int              `toml:"version"`
	Schedules []scheduleSchema `toml:"schedule"`
}

type scheduleSchema struct {
	ID         string   `toml:"id,omitempty"`
	Name       string   `toml:"name"`
	Start      string   `toml:"start"`
	End        string   `toml:"end"`
	Days       []string `toml:"days"`
	Apps       []string `toml:"apps,omitempty"`
	Categories []string `toml:"categories,omitempty"`
	Strict     bool     `toml:"strict"`
	Active     bool     `toml:"active"`
}

// ParseDay parses a weekday name ("mon", "Monday") or number (0 = Sunday).
func ParseDay(s string) (time.Weekday, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if len(key) >= 3 {
		if d, ok := dayNames[key[:3]]; ok {
			return d, nil
		}
	}
	var n int
	if _, err := fmt.Sscanf(key, "%d", &n); err == nil && n >= 0 && n <= 6 {
		return time.Weekday(n), nil
	}
	return 0, fmt.Errorf("invalid weekday %q", s)
}

// DayName returns the short lowercase name used in schedule files.
func DayName(d time.Weekday) string {
	return strings.ToLower(d.String()[:3])
}

// Marshal encodes schedules as a TOML document.
func Marshal(schedules []domain.BlockSchedule) ([]byte, error) {
	file := fileSchema{Version: fileVersion}
	for _, s := range schedules {
		file.Schedules = append(file.Schedules, toSchema(s))
	}
	data, err := toml.Marshal(file)
	if err != nil {
		return nil, fmt.Errorf("encode schedules: %w", err)
	}
	return data, nil
}

// Unmarshal decodes and validates a TOML schedule document.
func Unmarshal(data []byte) ([]domain.BlockSchedule, error) {
	var file fileSchema
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode schedules: %w", err)
	}
	if file.Version > fileVersion {
		return nil, fmt.Errorf("unsupported schedule file version %d", file.Version)
	}

	schedules := make([]domain.BlockSchedule, 0, len(file.Schedules))
	for i, entry := range file.Schedules {
		s, err := fromSchema(entry)
		if err == nil {
			err = Validate(s)
		}
		if err != nil {
			return nil, fmt.Errorf("schedule %d (%s): %w", i+1, entry.Name, err)
		}
		schedules = append(schedules, s)
	}
	return schedules, nil
}

// LoadFile reads a schedule file.
func LoadFile(path string) ([]domain.BlockSchedule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("schedule file %s: %w", path, err)
		}
		return nil, fmt.Errorf("read schedule file: %w", err)
	}
	return Unmarshal(data)
}

// WriteFile writes schedules to path atomically.
func WriteFile(path string, schedules []domain.BlockSchedule) error {
	data, err := Marshal(schedules)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create schedule directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".schedules-*.toml")
	if err != nil {
		return fmt.Errorf("create temp schedule file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp schedule file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp schedule file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace schedule file: %w", err)
	}
	return nil
}

func toSchema(s domain.BlockSchedule) scheduleSchema {
	days := make([]string, len(s.Days))
	for i, d := range s.Days {
		days[i] = DayName(d)
	}
	return scheduleSchema{
		ID:         s.ID,
		Name:       s.Name,
		Start:      s.Start.String(),
		End:        s.End.String(),
		Days:       days,
		Apps:       s.Targets.Apps,
		Categories: s.Targets.Categories,
		Strict:     s.Strict,
		Active:     s.IsActive,
	}
}

func fromSchema(entry scheduleSchema) (domain.BlockSchedule, error) {
	start, err := domain.ParseTimeOfDay(entry.Start)
	if err != nil {
		return domain.BlockSchedule{}, err
	}
	end, err := domain.ParseTimeOfDay(entry.End)
	if err != nil {
		return domain.BlockSchedule{}, err
	}

	days := make([]time.Weekday, 0, len(entry.Days))
	for _, name := range entry.Days {
		d, err := ParseDay(name)
		if err != nil {
			return domain.BlockSchedule{}, err
		}
		days = append(days, d)
	}

	return domain.BlockSchedule{
		ID:       entry.ID,
		Name:     entry.Name,
		Start:    start,
		End:      end,
		Days:     days,
		Targets:  domain.TargetSet{Apps: entry.Apps, Categories: entry.Categories},
		Strict:   entry.Strict,
		IsActive: entry.Active,
	}, nil
}
