package detect

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// instructionsHeader opens the section of the context note that holds
// standing rules added with `levelup instruct`.
const instructionsHeader = "## Instructions"

var sectionHeading = regexp.MustCompile(`(?m)^## `)

// NotePath returns the location of the shared project context note.
func NotePath(projectPath string) string {
	return filepath.Join(projectPath, "levelup", "project_context.md")
}

// SeedNote writes the context note with detection results unless it already
// exists. An existing note carries accumulated codebase insights and
// standing instructions that a later run must not clobber.
func SeedNote(projectPath string, info Info) error {
	path := NotePath(projectPath)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating levelup directory: %w", err)
	}

	content := fmt.Sprintf(`# Project Context

- **Language:** %s
- **Framework:** %s
- **Test runner:** %s
- **Test command:** %s

## Codebase Insights

(Agents append discoveries here)

%s

`,
		fallback(info.Language, "unknown"),
		fallback(info.Framework, "none"),
		fallback(info.TestRunner, "unknown"),
		fallback(info.TestCommand, "unknown"),
		instructionsHeader,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing project context note: %w", err)
	}
	return nil
}

// Instructions returns the standing rules recorded in the context note, in
// file order. A missing note means no rules.
func Instructions(projectPath string) ([]string, error) {
	data, err := os.ReadFile(NotePath(projectPath))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return parseRules(string(data)), nil
}

// AddInstruction appends a rule bullet to the note's instructions section,
// creating the note or the section when missing. A rule that is already
// present verbatim is ignored.
func AddInstruction(projectPath, rule string) error {
	rule = strings.TrimSpace(rule)
	if rule == "" {
		return fmt.Errorf("instruction must not be empty")
	}

	path := NotePath(projectPath)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if mkErr := os.MkdirAll(filepath.Dir(path), 0o755); mkErr != nil {
			return fmt.Errorf("creating levelup directory: %w", mkErr)
		}
		content := fmt.Sprintf("%s\n\n- %s\n", instructionsHeader, rule)
		return os.WriteFile(path, []byte(content), 0o644)
	}
	if err != nil {
		return err
	}

	content := string(data)
	for _, existing := range parseRules(content) {
		if existing == rule {
			return nil
		}
	}

	idx := strings.Index(content, instructionsHeader)
	if idx == -1 {
		trimmed := strings.TrimRight(content, "\n")
		if trimmed != "" {
			trimmed += "\n\n"
		}
		content = fmt.Sprintf("%s%s\n\n- %s\n", trimmed, instructionsHeader, rule)
		return os.WriteFile(path, []byte(content), 0o644)
	}

	next := nextSection(content, idx+len(instructionsHeader))
	if next == -1 {
		content = fmt.Sprintf("%s%s- %s\n", strings.TrimRight(content, "\n"), bulletSeparator(content), rule)
		return os.WriteFile(path, []byte(content), 0o644)
	}

	prefix := content[:next]
	content = fmt.Sprintf("%s%s- %s\n\n%s", strings.TrimRight(prefix, "\n"), bulletSeparator(prefix), rule, content[next:])
	return os.WriteFile(path, []byte(content), 0o644)
}

// RemoveInstruction deletes the 1-based indexed rule from the note and
// returns its text.
func RemoveInstruction(projectPath string, index int) (string, error) {
	path := NotePath(projectPath)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("no project context note at %s", projectPath)
	}
	if err != nil {
		return "", err
	}

	content := string(data)
	rules := parseRules(content)
	if index < 1 || index > len(rules) {
		return "", fmt.Errorf("rule index %d out of range (1-%d)", index, len(rules))
	}
	removed := rules[index-1]

	var out strings.Builder
	inSection := false
	count := 0
	for _, line := range strings.SplitAfter(content, "\n") {
		stripped := strings.TrimSpace(line)
		if stripped == instructionsHeader {
			inSection = true
		} else if inSection && strings.HasPrefix(stripped, "## ") {
			inSection = false
		}
		if inSection && strings.HasPrefix(stripped, "- ") {
			count++
			if count == index {
				continue
			}
		}
		out.WriteString(line)
	}

	if err := os.WriteFile(path, []byte(out.String()), 0o644); err != nil {
		return "", err
	}
	return removed, nil
}

// parseRules extracts the bullet items of the instructions section.
func parseRules(content string) []string {
	idx := strings.Index(content, instructionsHeader)
	if idx == -1 {
		return nil
	}
	start := idx + len(instructionsHeader)
	section := content[start:]
	if next := nextSection(content, start); next != -1 {
		section = content[start:next]
	}

	var rules []string
	for _, line := range strings.Split(section, "\n") {
		stripped := strings.TrimSpace(line)
		if strings.HasPrefix(stripped, "- ") {
			rules = append(rules, strings.TrimPrefix(stripped, "- "))
		}
	}
	return rules
}

// bulletSeparator keeps one blank line between the section header and its
// first bullet, and none between consecutive bullets.
func bulletSeparator(before string) string {
	if strings.HasSuffix(strings.TrimRight(before, "\n"), instructionsHeader) {
		return "\n\n"
	}
	return "\n"
}

// nextSection finds the offset of the next "## " heading at or after start.
func nextSection(content string, start int) int {
	loc := sectionHeading.FindStringIndex(content[start:])
	if loc == nil {
		return -1
	}
	return start + loc[0]
}

func fallback(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
