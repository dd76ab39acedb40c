// Package report filters and orders check-in records for the instructor
// view. Everything here is a pure transform over an in-memory record set.
package report

import (
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"presenca/internal/checkin"
)

// Window restricts records to a day, month, or year. Month and Year match
// on the date-string prefix ("2024-05", "2024").
type Window struct {
	Mode  string
	Value string
}

// Window modes.
const (
	ModeDay   = "day"
	ModeMonth = "month"
	ModeYear  = "year"
)

func Day(date string) Window  { return Window{Mode: ModeDay, Value: date} }
func Month(ym string) Window  { return Window{Mode: ModeMonth, Value: ym} }
func Year(year string) Window { return Window{Mode: ModeYear, Value: year} }

func (w Window) matches(rec checkin.Record) bool {
	switch w.Mode {
	case ModeDay:
		return rec.Date == w.Value
	case ModeMonth, ModeYear:
		return strings.HasPrefix(rec.Date, w.Value)
	default:
		return true
	}
}

// Sort selects the ordering of the view.
type Sort string

const (
	ByTimeDesc Sort = "date_desc" // default, newest first
	ByTimeAsc  Sort = "date_asc"
	ByNameAsc  Sort = "name_asc" // locale-aware
)

// Engine produces filtered, ordered views of the record set.
type Engine struct {
	tag language.Tag
}

// NewEngine creates an engine collating names for the given locale.
func NewEngine(tag language.Tag) *Engine {
	return &Engine{tag: tag}
}

// View filters records by window and search text and orders the result.
// The input slice is never mutated; the output is always a fresh slice.
// search matches the name case-insensitively and the matricula exactly
// (substring, case-sensitive).
func (e *Engine) View(records []checkin.Record, w Window, s Sort, search string) []checkin.Record {
	out := make([]checkin.Record, 0, len(records))
	low := strings.ToLower(search)
	for _, rec := range records {
		if !w.matches(rec) {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(rec.FullName), low) &&
			!strings.Contains(rec.Matricula, search) {
			continue
		}
		out = append(out, rec)
	}

	switch s {
	case ByNameAsc:
		// A Collator is not safe for concurrent use, so build one per call.
		col := collate.New(e.tag)
		sort.Slice(out, func(i, j int) bool {
			if c := col.CompareString(out[i].FullName, out[j].FullName); c != 0 {
				return c < 0
			}
			return out[i].ID < out[j].ID
		})
	case ByTimeAsc:
		sort.Slice(out, func(i, j int) bool {
			if !out[i].Timestamp.Equal(out[j].Timestamp) {
				return out[i].Timestamp.Before(out[j].Timestamp)
			}
			return out[i].ID < out[j].ID
		})
	default: // ByTimeDesc
		// Ties break on id descending so desc and asc are exact reverses.
		sort.Slice(out, func(i, j int) bool {
			if !out[i].Timestamp.Equal(out[j].Timestamp) {
				return out[i].Timestamp.After(out[j].Timestamp)
			}
			return out[i].ID > out[j].ID
		})
	}
	return out
}
