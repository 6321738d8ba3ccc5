package skill

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"
)

// frontmatter is the YAML header a skill markdown file may carry. Only
// files literally named SKILL.md, or files whose frontmatter sets
// Kind == "skill", are discovered as entrypoints — every other markdown
// file in the directory becomes an asset of the nearest discovered skill.
type frontmatter struct {
	Kind        string   `yaml:"kind"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Triggers    []string `yaml:"triggers"`
	Tags        []string `yaml:"tags"`
	Priority    int      `yaml:"priority"`
	Requires    []string `yaml:"requires"`
	Author      string   `yaml:"author"`
	Version     string   `yaml:"version"`
}

// LoadDir reads each immediate subdirectory of root (it does not recurse
// further) and registers every discovered skill (and its sibling markdown
// assets) into reg.
func LoadDir(root string, reg *InMemoryRegistry) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("skill: read dir %s: %w", root, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			dir := filepath.Join(root, entry.Name())
			if err := loadSkillDir(dir, reg); err != nil {
				return err
			}
		}
	}
	return nil
}

func loadSkillDir(dir string, reg *InMemoryRegistry) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("skill: read dir %s: %w", dir, err)
	}

	var entrypoint string
	var mdFiles []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		mdFiles = append(mdFiles, e.Name())
		if e.Name() == "SKILL.md" {
			entrypoint = e.Name()
		}
	}

	if entrypoint == "" {
		// fall back: any file whose frontmatter declares kind: skill
		for _, name := range mdFiles {
			fm, _, err := parseFrontmatter(filepath.Join(dir, name))
			if err == nil && fm.Kind == "skill" {
				entrypoint = name
				break
			}
		}
	}
	if entrypoint == "" {
		return nil // not a skill directory
	}

	fm, body, err := parseFrontmatter(filepath.Join(dir, entrypoint))
	if err != nil {
		return fmt.Errorf("skill: parse %s: %w", entrypoint, err)
	}

	name := fm.Name
	if name == "" {
		name = filepath.Base(dir)
	}
	description := fm.Description
	if description == "" {
		description = firstHeading(body)
	}

	s := NewSkill(name, description, body)
	s.Triggers = fm.Triggers
	s.Tags = fm.Tags
	s.Priority = fm.Priority
	s.Requires = fm.Requires
	s.Author = fm.Author
	s.Version = fm.Version

	if err := reg.Register(s); err != nil {
		return err
	}

	for _, name := range mdFiles {
		if name == entrypoint {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("skill: read asset %s: %w", name, err)
		}
		reg.RegisterAsset(s.Name, name, string(data))
	}

	return nil
}

// parseFrontmatter splits a leading "---\n...\n---\n" YAML block off raw
// and returns the parsed struct plus the remaining markdown body.
func parseFrontmatter(path string) (frontmatter, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return frontmatter{}, "", err
	}

	var fm frontmatter
	body := string(raw)
	if strings.HasPrefix(body, "---\n") {
		if end := strings.Index(body[4:], "\n---"); end >= 0 {
			header := body[4 : 4+end]
			if err := yaml.Unmarshal([]byte(header), &fm); err != nil {
				return frontmatter{}, "", fmt.Errorf("frontmatter: %w", err)
			}
			rest := body[4+end+4:]
			body = strings.TrimPrefix(rest, "\n")
		}
	}
	return fm, body, nil
}

// firstHeading extracts the first markdown heading's text as a fallback
// description when frontmatter omits one, using goldmark to walk the AST
// rather than regexing the raw text.
func firstHeading(body string) string {
	md := goldmark.New()
	src := []byte(body)
	doc := md.Parser().Parse(text.NewReader(src))

	var heading string
	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || heading != "" {
			return ast.WalkContinue, nil
		}
		if h, ok := n.(*ast.Heading); ok {
			var buf bytes.Buffer
			for c := h.FirstChild(); c != nil; c = c.NextSibling() {
				if t, ok := c.(*ast.Text); ok {
					buf.Write(t.Segment.Value(src))
				}
			}
			heading = buf.String()
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	return heading
}
