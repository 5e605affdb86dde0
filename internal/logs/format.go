package logs

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"mediadesk/internal/logging"
)

// levelRank orders the level names written by the JSON handler.
var levelRank = map[string]int{"debug": 0, "info": 1, "warn": 2, "error": 3}

// Filter selects records by minimum level and job.
type Filter struct {
	MinLevel string
	JobID    string
}

// Match reports whether a raw line passes the filter. Lines that are not JSON
// records always pass.
func (f Filter) Match(line string) bool {
	record, ok := parse(line)
	if !ok {
		return true
	}
	if f.MinLevel != "" {
		want, known := levelRank[strings.ToLower(f.MinLevel)]
		if got, ok := levelRank[stringField(record, "level")]; known && ok && got < want {
			return false
		}
	}
	if f.JobID != "" && !strings.HasPrefix(stringField(record, logging.FieldJobID), f.JobID) {
		return false
	}
	return true
}

// FormatLine renders a JSON log record as
// "15:04:05 LEVEL [component] message key=value ...". Other lines are
// returned unchanged.
func FormatLine(line string) string {
	record, ok := parse(line)
	if !ok {
		return line
	}
	var b strings.Builder
	if ts, err := time.Parse(time.RFC3339, stringField(record, "ts")); err == nil {
		b.WriteString(ts.Local().Format(time.TimeOnly))
		b.WriteByte(' ')
	}
	fmt.Fprintf(&b, "%-5s", strings.ToUpper(stringField(record, "level")))
	if component := stringField(record, logging.FieldComponent); component != "" {
		fmt.Fprintf(&b, " [%s]", component)
	}
	b.WriteByte(' ')
	b.WriteString(stringField(record, "msg"))

	keys := make([]string, 0, len(record))
	for key := range record {
		switch key {
		case "ts", "level", "msg", logging.FieldComponent:
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(&b, " %s=%s", key, valueText(record[key]))
	}
	return b.String()
}

func parse(line string) (map[string]any, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") {
		return nil, false
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(trimmed), &record); err != nil {
		return nil, false
	}
	return record, true
}

func stringField(record map[string]any, key string) string {
	value, _ := record[key].(string)
	return value
}

func valueText(value any) string {
	switch v := value.(type) {
	case string:
		if strings.ContainsAny(v, " \t\"=") {
			return fmt.Sprintf("%q", v)
		}
		return v
	case nil:
		return "null"
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	}
}
