package ttime

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

const (
	FORMAT_DATE_KEY  = "2006_01_02" // 日志分区键 YYYY_MM_DD
	FORMAT_DATE_SPEC = "20060102"   // 命令行 DATESPEC
	FORMAT_DATE_TIME = "2006-01-02 15:04:05"
)

var dateKeyRe = regexp.MustCompile(`^\d{4}_\d{2}_\d{2}$`)

// DateKey 按 loc 取 t 的日历日分区键
func DateKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(FORMAT_DATE_KEY)
}

func IsDateKey(s string) bool {
	if !dateKeyRe.MatchString(s) {
		return false
	}
	_, err := time.Parse(FORMAT_DATE_KEY, s)
	return err == nil
}

// ExpandDateSpec 把 DATESPEC 展开为升序的分区键。支持：
//
//	"20250906-20251006"   范围（闭区间）
//	"20250906,20250907"   列表（逗号分隔）
func ExpandDateSpec(spec string) ([]string, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}

	if strings.Contains(spec, "-") {
		ps := strings.Split(spec, "-")
		if len(ps) != 2 {
			return nil, fmt.Errorf("bad range: %s", spec)
		}
		start, err := parseSpecDate(ps[0])
		if err != nil {
			return nil, err
		}
		end, err := parseSpecDate(ps[1])
		if err != nil {
			return nil, err
		}
		if end.Before(start) {
			return nil, fmt.Errorf("end before start")
		}
		var out []string
		for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
			out = append(out, d.Format(FORMAT_DATE_KEY))
		}
		return out, nil
	}

	uniq := map[string]struct{}{}
	for _, p := range strings.Split(spec, ",") {
		d, err := parseSpecDate(p)
		if err != nil {
			return nil, err
		}
		uniq[d.Format(FORMAT_DATE_KEY)] = struct{}{}
	}
	out := make([]string, 0, len(uniq))
	for k := range uniq {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func parseSpecDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) != 8 {
		return time.Time{}, fmt.Errorf("bad date: %s", s)
	}
	return time.ParseInLocation(FORMAT_DATE_SPEC, s, time.Local)
}
