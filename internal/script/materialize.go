// Package script extracts generated programs, writes them to disk and runs
// them behind a bounded execution boundary.
package script

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/russross/blackfriday/v2"
)

// ExtractCode returns the program contained in generated output.
//
// The output is parsed as Markdown: the first fenced block tagged with
// language wins, else the first fenced block. Output without a fenced block
// has a stray leading fence line and a trailing fence removed. The result ends
// with exactly one newline.
func ExtractCode(output, language string) string {
	if code, ok := fencedBlock(output, language); ok {
		return normalize(code)
	}
	return normalize(stripFences(output))
}

func fencedBlock(output, language string) (string, bool) {
	md := blackfriday.New(blackfriday.WithExtensions(blackfriday.FencedCode))
	root := md.Parse([]byte(output))

	var first, tagged *blackfriday.Node
	root.Walk(func(n *blackfriday.Node, entering bool) blackfriday.WalkStatus {
		if !entering || n.Type != blackfriday.CodeBlock || !n.IsFenced {
			return blackfriday.GoToNext
		}
		if first == nil {
			first = n
		}
		if matchesLanguage(string(n.Info), language) {
			tagged = n
			return blackfriday.Terminate
		}
		return blackfriday.GoToNext
	})

	switch {
	case tagged != nil:
		return string(tagged.Literal), true
	case first != nil:
		return string(first.Literal), true
	default:
		return "", false
	}
}

func matchesLanguage(info, language string) bool {
	fields := strings.Fields(info)
	if len(fields) == 0 || language == "" {
		return false
	}
	tag := strings.ToLower(fields[0])
	language = strings.ToLower(language)
	if tag == language {
		return true
	}
	return language == "python" && (tag == "py" || tag == "python3")
}

func stripFences(output string) string {
	text := output
	fenced := false
	if trimmed := strings.TrimLeft(output, " \t\r\n"); strings.HasPrefix(trimmed, "```") {
		fenced = true
		if i := strings.IndexByte(trimmed, '\n'); i >= 0 {
			text = trimmed[i+1:]
		} else {
			text = ""
		}
	}
	text = strings.TrimRight(text, " \t\r\n")
	text = strings.TrimSuffix(text, "```")
	if fenced {
		text = dedent(text)
	}
	return text
}

// dedent removes the leading whitespace shared by all non-blank lines.
func dedent(text string) string {
	lines := strings.Split(text, "\n")
	prefix := ""
	first := true
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
		if first {
			prefix, first = indent, false
			continue
		}
		for !strings.HasPrefix(indent, prefix) {
			prefix = prefix[:len(prefix)-1]
		}
	}
	if prefix == "" {
		return text
	}
	for i, line := range lines {
		lines[i] = strings.TrimPrefix(line, prefix)
	}
	return strings.Join(lines, "\n")
}

func normalize(code string) string {
	code = strings.TrimLeft(code, "\r\n")
	code = strings.TrimRight(code, " \t\r\n")
	if code == "" {
		return ""
	}
	return code + "\n"
}

// Materialize writes code verbatim to dir/name and returns the file path.
func Materialize(dir, name, code string) (path string, err error) {
	if name == "" || filepath.Base(name) != name {
		return "", fmt.Errorf("invalid script name %q", name)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create script dir: %w", err)
	}

	path = filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return "", fmt.Errorf("create script: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close script: %w", cerr)
		}
	}()

	if _, err := f.WriteString(code); err != nil {
		return "", fmt.Errorf("write script: %w", err)
	}
	return path, nil
}
