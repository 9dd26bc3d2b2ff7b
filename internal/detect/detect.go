// Package detect identifies a target project's language, framework and test
// tooling from files in its repository root, and maintains the project
// context note that agents share across runs.
package detect

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// Info holds the detection results for a project. Unknown facts are empty
// strings, never errors: an unrecognized project still gets a pipeline run.
type Info struct {
	Language    string
	Framework   string
	TestRunner  string
	TestCommand string
}

// Detector identifies project facts for the pipeline's detect step.
type Detector interface {
	Detect(projectPath string) Info
}

// FileDetector is the shipped Detector. It checks well-known indicator
// files first and falls back to a census of source file extensions.
type FileDetector struct {
	log zerolog.Logger
}

func NewFileDetector(log zerolog.Logger) *FileDetector {
	return &FileDetector{log: log}
}

func (d *FileDetector) Detect(projectPath string) Info {
	root, err := filepath.Abs(projectPath)
	if err != nil {
		root = projectPath
	}

	info := Info{Language: detectLanguage(root)}
	if info.Language == "" {
		d.log.Debug().Str("path", root).Msg("no language detected")
		return info
	}

	info.Framework = detectFramework(root, info.Language)
	if runner, command, ok := detectTestRunner(root, info.Language); ok {
		info.TestRunner = runner
		info.TestCommand = command
	}

	d.log.Debug().
		Str("language", info.Language).
		Str("framework", info.Framework).
		Str("test_runner", info.TestRunner).
		Msg("project detected")
	return info
}

type languageIndicator struct {
	pattern  string
	language string
}

// Ordered: the first matching indicator wins, so pyproject.toml beats a
// package.json that only exists for tooling.
var languageIndicators = []languageIndicator{
	{"pyproject.toml", "python"},
	{"setup.py", "python"},
	{"setup.cfg", "python"},
	{"Pipfile", "python"},
	{"requirements.txt", "python"},
	{"package.json", "javascript"},
	{"tsconfig.json", "typescript"},
	{"Cargo.toml", "rust"},
	{"go.mod", "go"},
	{"pom.xml", "java"},
	{"build.gradle", "java"},
	{"build.gradle.kts", "kotlin"},
	{"Gemfile", "ruby"},
	{"mix.exs", "elixir"},
	{"composer.json", "php"},
	{"Project.swift", "swift"},
	{"Package.swift", "swift"},
	{"*.csproj", "csharp"},
	{"*.sln", "csharp"},
}

var extensionLanguages = map[string]string{
	".py":    "python",
	".js":    "javascript",
	".jsx":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".rs":    "rust",
	".go":    "go",
	".java":  "java",
	".kt":    "kotlin",
	".rb":    "ruby",
	".ex":    "elixir",
	".exs":   "elixir",
	".php":   "php",
	".swift": "swift",
	".cs":    "csharp",
	".cpp":   "cpp",
	".c":     "c",
}

var skipDirs = map[string]struct{}{
	"node_modules": {},
	".venv":        {},
	"venv":         {},
	"__pycache__":  {},
	".git":         {},
	"target":       {},
	"build":        {},
	"dist":         {},
	".tox":         {},
	"env":          {},
	"vendor":       {},
}

func detectLanguage(root string) string {
	for _, ind := range languageIndicators {
		if strings.Contains(ind.pattern, "*") {
			matches, _ := filepath.Glob(filepath.Join(root, ind.pattern))
			if len(matches) > 0 {
				return ind.language
			}
			continue
		}
		if _, err := os.Stat(filepath.Join(root, ind.pattern)); err == nil {
			return ind.language
		}
	}
	return censusLanguage(root)
}

// censusLanguage counts source files by extension, skipping vendor and VCS
// directories. Ties break alphabetically for determinism.
func censusLanguage(root string) string {
	counts := make(map[string]int)
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if _, skip := skipDirs[d.Name()]; skip {
				return filepath.SkipDir
			}
			return nil
		}
		if lang, ok := extensionLanguages[filepath.Ext(path)]; ok {
			counts[lang]++
		}
		return nil
	})

	if len(counts) == 0 {
		return ""
	}
	langs := make([]string, 0, len(counts))
	for lang := range counts {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	best := langs[0]
	for _, lang := range langs[1:] {
		if counts[lang] > counts[best] {
			best = lang
		}
	}
	return best
}

// fileContains reports whether the file exists and its content contains
// term, case-insensitively.
func fileContains(path, term string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(data)), term)
}

// globAnywhere reports whether any file under root matches the base-name
// pattern, skipping vendor and VCS directories.
func globAnywhere(root, pattern string) bool {
	found := false
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if _, skip := skipDirs[d.Name()]; skip {
				return filepath.SkipDir
			}
			return nil
		}
		if ok, _ := filepath.Match(pattern, d.Name()); ok {
			found = true
			return filepath.SkipAll
		}
		return nil
	})
	return found
}
