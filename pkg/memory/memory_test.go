package memory

import (
	"strings"
	"testing"

	"github.com/plugforge/plugforge/pkg/model"
)

func TestSeedAndGet(t *testing.T) {
	p := NewProject()
	p.Seed([]*model.ProjectFile{
		{Path: "plugin.yml", Content: "name: Homes"},
		{Path: "pom.xml", Content: "<project/>"},
	})

	content, ok := p.Get("plugin.yml")
	if !ok {
		t.Fatal("expected plugin.yml in memory")
	}
	if content != "name: Homes" {
		t.Fatalf("unexpected content %q", content)
	}
	if p.Len() != 2 {
		t.Fatalf("expected 2 files, got %d", p.Len())
	}
}

func TestPutDeletePaths(t *testing.T) {
	p := NewProject()
	p.Put("b.java", "class B {}")
	p.Put("a.java", "class A {}")

	paths := p.Paths()
	if len(paths) != 2 || paths[0] != "a.java" || paths[1] != "b.java" {
		t.Fatalf("expected sorted paths, got %v", paths)
	}

	p.Delete("a.java")
	if _, ok := p.Get("a.java"); ok {
		t.Fatal("expected a.java removed")
	}
}

func TestRestoreReplacesWholesale(t *testing.T) {
	p := NewProject()
	p.Put("old.java", "old")
	p.Restore(map[string]string{"new.java": "new"})

	if _, ok := p.Get("old.java"); ok {
		t.Fatal("expected old.java gone after restore")
	}
	if content, _ := p.Get("new.java"); content != "new" {
		t.Fatal("expected new.java after restore")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	p := NewProject()
	p.Put("a.java", "class A {}")

	snap := p.Snapshot()
	snap["a.java"] = "mutated"

	if content, _ := p.Get("a.java"); content != "class A {}" {
		t.Fatal("snapshot mutation leaked into memory")
	}
}

func TestContext_PriorityFirst(t *testing.T) {
	p := NewProject()
	p.Put("zz.java", "class ZZ {}")
	p.Put("aa.java", "class AA {}")

	ctx := p.Context([]string{"zz.java"}, 0)
	zz := strings.Index(ctx, "### zz.java")
	aa := strings.Index(ctx, "### aa.java")
	if zz < 0 || aa < 0 {
		t.Fatalf("expected both files in context:\n%s", ctx)
	}
	if zz > aa {
		t.Fatal("expected priority file first")
	}
}

func TestContext_BudgetOmitsOverflow(t *testing.T) {
	p := NewProject()
	p.Put("big.java", strings.Repeat("x", 500))
	p.Put("small.java", "class S {}")

	ctx := p.Context([]string{"big.java"}, 600)
	if !strings.Contains(ctx, strings.Repeat("x", 500)) {
		t.Fatal("expected priority file content in full")
	}
	if !strings.Contains(ctx, "(omitted for length)") {
		t.Fatalf("expected overflow marker:\n%s", ctx)
	}
}

func TestContext_TruncatesHugeFiles(t *testing.T) {
	p := NewProject()
	p.Put("huge.java", strings.Repeat("y", perFileCap+100))

	ctx := p.Context(nil, 0)
	if !strings.Contains(ctx, "... (truncated)") {
		t.Fatal("expected per-file truncation marker")
	}
}

func TestContext_Empty(t *testing.T) {
	p := NewProject()
	if ctx := p.Context(nil, 1000); ctx != "" {
		t.Fatalf("expected empty context, got %q", ctx)
	}
}
