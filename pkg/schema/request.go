package schema

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	pv "github.com/goliatone/go-pvscan"
	"github.com/goliatone/go-pvscan/internal/hydrate"
)

// DefaultCategory collects request entries listed before the first category
// comment.
const DefaultCategory = "default"

// ParseRequest reads a request list: one parameter name per line, with
// "# Category" comment lines opening a new manifest group. Names may use
// $(NAME) macros; when the expanded name starts with namespace the prefix is
// removed. Include directives ("file ...") are not supported.
func ParseRequest(r io.Reader, macros map[string]string, namespace string) ([]pv.Group, error) {
	var (
		groups  []pv.Group
		current = -1
		lineNo  int
	)
	openGroup := func(category string) {
		for i, group := range groups {
			if group.Category == category {
				current = i
				return
			}
		}
		groups = append(groups, pv.Group{Category: category})
		current = len(groups) - 1
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			if category := strings.TrimSpace(strings.TrimLeft(line, "#")); category != "" {
				openGroup(category)
			}
			continue
		}
		if fields := strings.Fields(line); fields[0] == "file" {
			return nil, fmt.Errorf("schema: request line %d: include directives are not supported", lineNo)
		}
		name, err := hydrate.ExpandString(line, macros)
		if err != nil {
			return nil, fmt.Errorf("schema: request line %d: %w", lineNo, err)
		}
		if namespace != "" {
			name = strings.TrimPrefix(name, namespace)
		}
		if current < 0 {
			openGroup(DefaultCategory)
		}
		groups[current].Names = append(groups[current].Names, name)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("schema: read request: %w", err)
	}
	return groups, nil
}

// LoadRequestFiles parses every request file in order and concatenates the
// groups. Categories repeated across files are merged.
func LoadRequestFiles(paths []string, macros map[string]string, namespace string) ([]pv.Group, error) {
	var out []pv.Group
	index := map[string]int{}
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("schema: open %s: %w", path, err)
		}
		groups, err := ParseRequest(f, macros, namespace)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		for _, group := range groups {
			if i, ok := index[group.Category]; ok {
				out[i].Names = append(out[i].Names, group.Names...)
				continue
			}
			index[group.Category] = len(out)
			out = append(out, group)
		}
	}
	return out, nil
}
