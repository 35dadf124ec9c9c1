package readertest

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/agentworkforce/readerstream/internal/reader"
)

const defaultLimit = 200

type filter struct {
	limit       int
	offset      int
	unreadOnly  bool
	readOnly    bool
	olderFirst  bool
	ids         map[int64]struct{}
	beforeID    int64
	afterID     int64
	beforeTime  time.Time
	afterTime   time.Time
	beforeScore float64
	afterScore  float64
}

func parseFilter(values url.Values) (filter, error) {
	f := filter{limit: defaultLimit}
	var err error
	if f.limit, err = intParam(values, "limit", defaultLimit); err != nil {
		return f, err
	}
	if f.offset, err = intParam(values, "offset", 0); err != nil {
		return f, err
	}
	f.unreadOnly = values.Get("unreadOnly") == "true"
	f.readOnly = values.Get("readOnly") == "true"
	f.olderFirst = values.Get("olderFirst") == "true"
	if raw := values["id"]; len(raw) > 0 {
		f.ids = make(map[int64]struct{}, len(raw))
		for _, r := range raw {
			id, err := strconv.ParseInt(r, 10, 64)
			if err != nil {
				return f, fmt.Errorf("invalid id %q", r)
			}
			f.ids[id] = struct{}{}
		}
	}
	if f.beforeID, err = int64Param(values, "beforeID"); err != nil {
		return f, err
	}
	if f.afterID, err = int64Param(values, "afterID"); err != nil {
		return f, err
	}
	if f.beforeTime, err = timeParam(values, "beforeTime"); err != nil {
		return f, err
	}
	if f.afterTime, err = timeParam(values, "afterTime"); err != nil {
		return f, err
	}
	if f.beforeScore, err = floatParam(values, "beforeScore"); err != nil {
		return f, err
	}
	if f.afterScore, err = floatParam(values, "afterScore"); err != nil {
		return f, err
	}
	return f, nil
}

func (f filter) matches(a reader.Article) bool {
	if f.unreadOnly && a.Read {
		return false
	}
	if f.readOnly && !a.Read {
		return false
	}
	if f.ids != nil {
		if _, ok := f.ids[a.ID]; !ok {
			return false
		}
	}
	if f.beforeID > 0 && a.ID >= f.beforeID {
		return false
	}
	if f.afterID > 0 && a.ID <= f.afterID {
		return false
	}
	if !f.beforeTime.IsZero() && !a.Date.Before(f.beforeTime) {
		return false
	}
	if !f.afterTime.IsZero() && !a.Date.After(f.afterTime) {
		return false
	}
	if f.beforeScore != 0 && a.Score > f.beforeScore {
		return false
	}
	if f.afterScore != 0 && a.Score < f.afterScore {
		return false
	}
	return true
}

func intParam(values url.Values, name string, fallback int) (int, error) {
	raw := values.Get(name)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return value, nil
}

func int64Param(values url.Values, name string) (int64, error) {
	raw := values.Get(name)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return value, nil
}

func timeParam(values url.Values, name string) (time.Time, error) {
	seconds, err := int64Param(values, name)
	if err != nil || seconds == 0 {
		return time.Time{}, err
	}
	return time.Unix(seconds, 0), nil
}

func floatParam(values url.Values, name string) (float64, error) {
	raw := values.Get(name)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return value, nil
}
