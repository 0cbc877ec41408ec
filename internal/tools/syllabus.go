package tools

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

//go:embed syllabi/*.md
var builtinSyllabi embed.FS

// Section is one headed part of a syllabus. Body includes the heading
// line and everything up to the next heading of the same or a higher
// level.
type Section struct {
	Heading string
	Level   int
	Body    string
}

// Syllabus is a parsed markdown course outline.
type Syllabus struct {
	Name     string // file name without extension
	Title    string // first level-1 heading, or Name
	Text     string
	Sections []Section
}

// ParseSyllabus splits a markdown document into sections by heading.
func ParseSyllabus(name string, src []byte) *Syllabus {
	doc := goldmark.DefaultParser().Parse(text.NewReader(src))

	type mark struct {
		heading string
		level   int
		start   int
	}
	var marks []mark
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok || h.Lines().Len() == 0 {
			continue
		}
		// Segment starts after the "#" markers; back up to the line start.
		start := h.Lines().At(0).Start
		for start > 0 && src[start-1] != '\n' {
			start--
		}
		marks = append(marks, mark{
			heading: strings.TrimSpace(string(h.Text(src))),
			level:   h.Level,
			start:   start,
		})
	}

	s := &Syllabus{Name: name, Title: name, Text: strings.TrimSpace(string(src))}
	for i, m := range marks {
		end := len(src)
		for _, next := range marks[i+1:] {
			if next.level <= m.level {
				end = next.start
				break
			}
		}
		if m.level == 1 && s.Title == name {
			s.Title = m.heading
		}
		s.Sections = append(s.Sections, Section{
			Heading: m.heading,
			Level:   m.level,
			Body:    strings.TrimSpace(string(src[m.start:end])),
		})
	}
	return s
}

// Library is the set of syllabi get_syllabus answers from.
type Library struct {
	syllabi []*Syllabus
}

// LoadLibrary reads every *.md file in dir, in name order. An empty dir
// loads the built-in syllabus.
func LoadLibrary(dir string) (*Library, error) {
	if dir == "" {
		return loadLibraryFS(BuiltinSyllabi())
	}
	return loadLibraryFS(os.DirFS(dir))
}

// BuiltinSyllabi returns the embedded syllabus files, rooted so that
// they match "*.md".
func BuiltinSyllabi() fs.FS {
	sub, err := fs.Sub(builtinSyllabi, "syllabi")
	if err != nil {
		panic(err) // fixed embed path
	}
	return sub
}

func loadLibraryFS(fsys fs.FS) (*Library, error) {
	names, err := fs.Glob(fsys, "*.md")
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no syllabus (*.md) files found")
	}
	sort.Strings(names)

	lib := &Library{}
	for _, name := range names {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read syllabus %s: %w", name, err)
		}
		lib.syllabi = append(lib.syllabi, ParseSyllabus(strings.TrimSuffix(path.Base(name), ".md"), data))
	}
	return lib, nil
}

// Lookup answers a lesson query. A query naming a syllabus returns all
// of it; a query matching a section heading returns that section;
// anything else, including the empty query, returns the first syllabus
// in full.
func (l *Library) Lookup(query string) string {
	q := fold(query)
	if q != "" {
		for _, s := range l.syllabi {
			if matches(q, fold(s.Title)) || matches(q, fold(s.Name)) {
				return s.Text
			}
		}
		for _, s := range l.syllabi {
			for _, sec := range s.Sections {
				if sec.Level > 1 && matches(q, fold(sec.Heading)) {
					return sec.Body
				}
			}
		}
	}
	return l.syllabi[0].Text
}

// matches reports whether either side contains the other. Very short
// headings only match exactly.
func matches(query, heading string) bool {
	if heading == "" {
		return false
	}
	if query == heading || strings.Contains(heading, query) {
		return true
	}
	return len(heading) >= 4 && strings.Contains(query, heading)
}

func fold(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// SyllabusTool exposes lib as the get_syllabus tool.
func SyllabusTool(lib *Library) Tool {
	return Tool{
		Name:        "get_syllabus",
		Description: "Returns the course syllabus or learning path for a lesson. Input: the lesson or topic name; empty input returns the whole syllabus.",
		Handler: func(_ context.Context, input string) (string, error) {
			return lib.Lookup(input), nil
		},
	}
}
