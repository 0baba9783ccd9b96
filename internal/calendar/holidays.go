package calendar

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"duewatch/internal/domain"
)

type holidayFile struct {
	Calendars map[string][]string `yaml:"calendars"`
}

// Holidays is a static, file-backed HolidayLookup.
type Holidays struct {
	calendars map[string]map[string]struct{}
}

// LoadHolidays reads a YAML document of the form
//
//	calendars:
//	  us: ["2024-01-01", "2024-12-25"]
func LoadHolidays(path string) (*Holidays, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read holidays: %w", err)
	}
	return ParseHolidays(data)
}

func ParseHolidays(data []byte) (*Holidays, error) {
	var f holidayFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse holidays: %w", err)
	}
	h := &Holidays{calendars: make(map[string]map[string]struct{}, len(f.Calendars))}
	for name, days := range f.Calendars {
		set := make(map[string]struct{}, len(days))
		for _, day := range days {
			if _, err := time.Parse(domain.DateLayout, day); err != nil {
				return nil, fmt.Errorf("calendar %q: invalid date %q", name, day)
			}
			set[day] = struct{}{}
		}
		h.calendars[name] = set
	}
	return h, nil
}

// IsHoliday reports whether date is listed for the named calendar. Unknown
// calendars have no holidays.
func (h *Holidays) IsHoliday(name string, date time.Time) (bool, error) {
	set, ok := h.calendars[name]
	if !ok {
		return false, nil
	}
	_, found := set[date.Format(domain.DateLayout)]
	return found, nil
}
