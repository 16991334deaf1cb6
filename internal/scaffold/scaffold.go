package scaffold

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"
)

//go:embed all:templates
var scaffoldFS embed.FS

// Data holds the template variables available to scaffold templates.
type Data struct {
	Name           string // display name, e.g. "My App"
	Slug           string // package-safe name, e.g. "my-app"
	Target         string // "expo" or "bare"
	Language       string // "ts" or "js"
	PackageManager string // "npm", "yarn", "pnpm", "bun"
	CLIVersion     string
	Year           int
}

// Result holds the outcome of a scaffold generation.
type Result struct {
	OutputDir string
	Files     []string
	Skipped   []string // existing files left untouched
}

// NewData creates a Data with derived fields populated.
func NewData(name, target, language, packageManager, cliVersion string) *Data {
	return &Data{
		Name:           name,
		Slug:           slugify(name),
		Target:         target,
		Language:       language,
		PackageManager: packageManager,
		CLIVersion:     cliVersion,
		Year:           time.Now().Year(),
	}
}

// outputNames maps template base names that cannot be stored under their
// real name (embed skips dotfiles) to their on-disk name.
var outputNames = map[string]string{
	"gitignore": ".gitignore",
}

// Generate writes the project skeleton into outputDir. Existing files are
// never overwritten; they are reported in Result.Skipped so init stays
// safe to run inside a project that already has content.
func Generate(data *Data, outputDir string) (*Result, error) {
	result := &Result{OutputDir: outputDir}

	err := fs.WalkDir(scaffoldFS, "templates", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}

		rel := strings.TrimPrefix(path, "templates/")
		rel = strings.TrimSuffix(rel, ".tmpl")
		if mapped, ok := outputNames[filepath.Base(rel)]; ok {
			rel = filepath.Join(filepath.Dir(rel), mapped)
		}

		outPath := filepath.Join(outputDir, filepath.FromSlash(rel))
		if _, err := os.Stat(outPath); err == nil {
			result.Skipped = append(result.Skipped, rel)
			return nil
		}

		tmplBytes, err := fs.ReadFile(scaffoldFS, path)
		if err != nil {
			return fmt.Errorf("reading template %s: %w", path, err)
		}

		tmpl, err := template.New(filepath.Base(path)).Parse(string(tmplBytes))
		if err != nil {
			return fmt.Errorf("parsing template %s: %w", path, err)
		}

		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			return fmt.Errorf("rendering template %s: %w", path, err)
		}

		if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
			return fmt.Errorf("creating directory for %s: %w", rel, err)
		}
		if err := os.WriteFile(outPath, buf.Bytes(), 0644); err != nil {
			return fmt.Errorf("writing %s: %w", rel, err)
		}

		result.Files = append(result.Files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// slugify lowercases the name and replaces runs of non-alphanumerics with
// single dashes.
func slugify(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
