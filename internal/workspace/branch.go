package workspace

import (
	"regexp"
	"strings"
	"time"
)

// Branch patterns use {run_id}, {task_title} and {date} placeholders.
// Anything else passes through unresolved so a surprising convention shows
// up in the branch name instead of being silently dropped.
var placeholders = []string{"{run_id}", "{task_title}", "{date}"}

// aliases map natural-language pattern segments to placeholders, tried
// longest-first so greedy matching works
var aliases = []struct {
	alias       string
	placeholder string
}{
	{"task-title-in-kebab-case", "{task_title}"},
	{"task-title", "{task_title}"},
	{"task_title", "{task_title}"},
	{"title", "{task_title}"},
	{"task", "{task_title}"},
	{"run-id", "{run_id}"},
	{"run_id", "{run_id}"},
	{"runid", "{run_id}"},
	{"id", "{run_id}"},
	{"date", "{date}"},
}

var (
	nonAlnum         = regexp.MustCompile(`[^a-z0-9]+`)
	multiDash        = regexp.MustCompile(`-+`)
	formatDescriptor = regexp.MustCompile(`(?i)[-_]in[-_](kebab|snake|camel|pascal)[-_]case$|[-_](slug|kebab|snake|camel|pascal)$`)
)

// Slugify converts a task title into a branch-safe slug: lowercased,
// non-alphanumerics collapsed to single dashes, trimmed, at most 50
// characters. An empty title yields "task".
func Slugify(title string) string {
	s := strings.ToLower(strings.TrimSpace(title))
	s = nonAlnum.ReplaceAllString(s, "-")
	s = multiDash.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > 50 {
		s = strings.TrimRight(s[:50], "-")
	}
	if s == "" {
		return "task"
	}
	return s
}

// ResolveBranchName substitutes the canonical placeholders into a branch
// pattern. An empty pattern falls back to levelup/{run_id}. Unknown
// placeholders are left as-is.
func ResolveBranchName(pattern, runID, taskTitle string, now time.Time) string {
	if strings.TrimSpace(pattern) == "" {
		pattern = "levelup/{run_id}"
	}
	name := pattern
	name = strings.ReplaceAll(name, "{run_id}", runID)
	name = strings.ReplaceAll(name, "{task_title}", Slugify(taskTitle))
	name = strings.ReplaceAll(name, "{date}", now.Format("20060102"))
	return name
}

// NormalizeConvention converts a human-written branch naming description
// into the canonical placeholder form. Input that already contains a
// placeholder passes through untouched; otherwise each /-segment has known
// aliases replaced and trailing format descriptors stripped:
//
//	levelup/{run_id}                 -> levelup/{run_id}
//	levelup/task-title-in-kebab-case -> levelup/{task_title}
//	feature/task-title               -> feature/{task_title}
//	dev/date-run-id                  -> dev/{date}-{run_id}
func NormalizeConvention(raw string) string {
	stripped := strings.TrimSpace(raw)
	if stripped == "" {
		return stripped
	}
	if hasPlaceholder(stripped) {
		return stripped
	}

	segments := strings.Split(stripped, "/")
	for i, seg := range segments {
		seg = replaceAliases(seg)
		if hasPlaceholder(seg) {
			seg = formatDescriptor.ReplaceAllString(seg, "")
		}
		segments[i] = seg
	}
	return strings.Join(segments, "/")
}

func hasPlaceholder(s string) bool {
	for _, p := range placeholders {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// replaceAliases rewrites aliases within one segment. Aliases only match on
// word boundaries (segment start or after -_.) and each position is consumed
// at most once.
func replaceAliases(segment string) string {
	var result strings.Builder
	lower := strings.ToLower(segment)
	i := 0

	for i < len(segment) {
		if i == 0 || isSeparator(segment[i-1]) {
			matched := false
			for _, a := range aliases {
				end := i + len(a.alias)
				if end > len(segment) || lower[i:end] != a.alias {
					continue
				}
				if end < len(segment) && !isSeparator(segment[end]) {
					continue
				}
				result.WriteString(a.placeholder)
				i = end
				matched = true
				break
			}
			if matched {
				continue
			}
		}
		result.WriteByte(segment[i])
		i++
	}

	return result.String()
}

func isSeparator(c byte) bool {
	return c == '-' || c == '_' || c == '.'
}
