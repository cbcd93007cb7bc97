// Package memory provides the in-process Project Memory for a running
// build: the single source of truth for "what does this file currently
// contain". It is seeded from the file store before any generation step and
// rebuilt on every start/resume, never assumed durable across restarts.
package memory

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/plugforge/plugforge/pkg/model"
)

// Project is a mutex-guarded map from file path to last-known content.
type Project struct {
	mu    sync.RWMutex
	files map[string]string
}

// NewProject creates an empty Project memory.
func NewProject() *Project {
	return &Project{files: make(map[string]string)}
}

// Seed hydrates memory from durable project files. Existing entries with
// the same path are overwritten; others are kept.
func (p *Project) Seed(files []*model.ProjectFile) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, f := range files {
		p.files[f.Path] = f.Content
	}
}

// Restore replaces memory wholesale from a serialized snapshot.
func (p *Project) Restore(snapshot map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.files = make(map[string]string, len(snapshot))
	for path, content := range snapshot {
		p.files[path] = content
	}
}

// Get returns a file's current content.
func (p *Project) Get(path string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	content, ok := p.files[path]
	return content, ok
}

// Put records a file's content after a successful write.
func (p *Project) Put(path, content string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.files[path] = content
}

// Delete removes a file entry.
func (p *Project) Delete(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.files, path)
}

// Paths returns all known paths, sorted.
func (p *Project) Paths() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	paths := make([]string, 0, len(p.files))
	for path := range p.files {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Len returns the number of files in memory.
func (p *Project) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.files)
}

// Snapshot returns a copy of the full path → content map, suitable for
// serializing onto the durable build record.
func (p *Project) Snapshot() map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]string, len(p.files))
	for path, content := range p.files {
		out[path] = content
	}
	return out
}

// perFileCap bounds how much of any single file the context shows.
const perFileCap = 4000

// Context builds a markdown context block for generation prompts. Files in
// priority (the current phase's files) come first with full content; the
// rest follow until budget characters are spent, truncated per file.
func (p *Project) Context(priority []string, budget int) string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.files) == 0 {
		return ""
	}

	prioritized := make(map[string]bool, len(priority))
	ordered := make([]string, 0, len(p.files))
	for _, path := range priority {
		if _, ok := p.files[path]; ok && !prioritized[path] {
			prioritized[path] = true
			ordered = append(ordered, path)
		}
	}
	var rest []string
	for path := range p.files {
		if !prioritized[path] {
			rest = append(rest, path)
		}
	}
	sort.Strings(rest)
	ordered = append(ordered, rest...)

	var b strings.Builder
	for _, path := range ordered {
		content := p.files[path]
		if len(content) > perFileCap {
			content = content[:perFileCap] + "\n... (truncated)"
		}
		entry := fmt.Sprintf("### %s\n%s\n\n", path, content)
		if budget > 0 && b.Len()+len(entry) > budget {
			fmt.Fprintf(&b, "### %s\n(omitted for length)\n\n", path)
			continue
		}
		b.WriteString(entry)
	}
	return strings.TrimRight(b.String(), "\n")
}
