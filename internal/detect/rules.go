package detect

import (
	"os"
	"path/filepath"
	"strings"
)

type frameworkRule struct {
	language  string
	indicator string
	contains  string // empty means an existence check
	framework string
}

var frameworkRules = []frameworkRule{
	{"python", "manage.py", "", "django"},
	{"python", "pyproject.toml", "fastapi", "fastapi"},
	{"python", "pyproject.toml", "flask", "flask"},
	{"python", "pyproject.toml", "starlette", "starlette"},
	{"python", "requirements.txt", "django", "django"},
	{"python", "requirements.txt", "fastapi", "fastapi"},
	{"python", "requirements.txt", "flask", "flask"},

	{"javascript", "next.config.js", "", "nextjs"},
	{"javascript", "next.config.mjs", "", "nextjs"},
	{"javascript", "next.config.ts", "", "nextjs"},
	{"typescript", "next.config.js", "", "nextjs"},
	{"typescript", "next.config.mjs", "", "nextjs"},
	{"typescript", "next.config.ts", "", "nextjs"},
	{"javascript", "nuxt.config.js", "", "nuxt"},
	{"javascript", "nuxt.config.ts", "", "nuxt"},
	{"typescript", "nuxt.config.ts", "", "nuxt"},
	{"javascript", "angular.json", "", "angular"},
	{"typescript", "angular.json", "", "angular"},
	{"javascript", "vite.config.js", "", "vite"},
	{"javascript", "vite.config.ts", "", "vite"},
	{"typescript", "vite.config.ts", "", "vite"},
	{"javascript", "package.json", "express", "express"},
	{"javascript", "package.json", "react", "react"},
	{"typescript", "package.json", "react", "react"},
	{"javascript", "package.json", "vue", "vue"},
	{"typescript", "package.json", "vue", "vue"},

	{"ruby", "Gemfile", "rails", "rails"},
	{"ruby", "config/routes.rb", "", "rails"},
	{"ruby", "Gemfile", "sinatra", "sinatra"},

	{"go", "go.mod", "gin-gonic", "gin"},
	{"go", "go.mod", "gorilla/mux", "gorilla"},
	{"go", "go.mod", "labstack/echo", "echo"},

	{"rust", "Cargo.toml", "actix-web", "actix"},
	{"rust", "Cargo.toml", "axum", "axum"},
	{"rust", "Cargo.toml", "rocket", "rocket"},

	{"java", "pom.xml", "spring-boot", "spring"},
	{"java", "build.gradle", "spring-boot", "spring"},
	{"kotlin", "build.gradle.kts", "spring-boot", "spring"},
}

func detectFramework(root, language string) string {
	for _, rule := range frameworkRules {
		if rule.language != language {
			continue
		}
		path := filepath.Join(root, rule.indicator)
		if rule.contains == "" {
			if _, err := os.Stat(path); err == nil {
				return rule.framework
			}
			continue
		}
		if fileContains(path, rule.contains) {
			return rule.framework
		}
	}
	return ""
}

type runnerRule struct {
	language string
	check    string // file, file:term, *glob, or dir/
	runner   string
	command  string
}

var runnerRules = []runnerRule{
	{"python", "pytest.ini", "pytest", "pytest"},
	{"python", "pyproject.toml:pytest", "pytest", "pytest"},
	{"python", "setup.cfg:pytest", "pytest", "pytest"},
	{"python", "tox.ini", "pytest", "pytest"},
	{"python", "conftest.py", "pytest", "pytest"},
	{"python", "tests/conftest.py", "pytest", "pytest"},

	{"javascript", "jest.config.js", "jest", "npx jest"},
	{"javascript", "jest.config.ts", "jest", "npx jest"},
	{"typescript", "jest.config.js", "jest", "npx jest"},
	{"typescript", "jest.config.ts", "jest", "npx jest"},
	{"javascript", "package.json:jest", "jest", "npx jest"},
	{"typescript", "package.json:jest", "jest", "npx jest"},
	{"javascript", "vitest.config.js", "vitest", "npx vitest run"},
	{"javascript", "vitest.config.ts", "vitest", "npx vitest run"},
	{"typescript", "vitest.config.ts", "vitest", "npx vitest run"},
	{"javascript", "package.json:vitest", "vitest", "npx vitest run"},
	{"typescript", "package.json:vitest", "vitest", "npx vitest run"},
	{"javascript", "package.json:mocha", "mocha", "npx mocha"},

	{"go", "*_test.go", "go_test", "go test ./..."},

	{"rust", "Cargo.toml", "cargo_test", "cargo test"},

	{"ruby", "Gemfile:rspec", "rspec", "bundle exec rspec"},
	{"ruby", "spec/", "rspec", "bundle exec rspec"},

	{"java", "pom.xml", "maven", "mvn test"},
	{"java", "build.gradle", "gradle", "gradle test"},
	{"kotlin", "build.gradle.kts", "gradle", "gradle test"},

	{"php", "phpunit.xml", "phpunit", "vendor/bin/phpunit"},
	{"php", "phpunit.xml.dist", "phpunit", "vendor/bin/phpunit"},
}

// defaultRunners is consulted when no rule matched for a known language.
var defaultRunners = map[string]runnerRule{
	"python":     {runner: "pytest", command: "pytest"},
	"javascript": {runner: "jest", command: "npx jest"},
	"typescript": {runner: "jest", command: "npx jest"},
	"go":         {runner: "go_test", command: "go test ./..."},
	"rust":       {runner: "cargo_test", command: "cargo test"},
	"java":       {runner: "maven", command: "mvn test"},
	"ruby":       {runner: "rspec", command: "bundle exec rspec"},
}

func detectTestRunner(root, language string) (runner, command string, ok bool) {
	for _, rule := range runnerRules {
		if rule.language != language {
			continue
		}
		switch {
		case strings.Contains(rule.check, ":"):
			file, term, _ := strings.Cut(rule.check, ":")
			if fileContains(filepath.Join(root, file), term) {
				return rule.runner, rule.command, true
			}
		case strings.Contains(rule.check, "*"):
			if globAnywhere(root, rule.check) {
				return rule.runner, rule.command, true
			}
		case strings.HasSuffix(rule.check, "/"):
			if st, err := os.Stat(filepath.Join(root, strings.TrimSuffix(rule.check, "/"))); err == nil && st.IsDir() {
				return rule.runner, rule.command, true
			}
		default:
			if _, err := os.Stat(filepath.Join(root, rule.check)); err == nil {
				return rule.runner, rule.command, true
			}
		}
	}

	if def, exists := defaultRunners[language]; exists {
		return def.runner, def.command, true
	}
	return "", "", false
}
