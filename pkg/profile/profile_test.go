package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/previewlabs/previewd/pkg/filetree"
)

func buildTree(t *testing.T, files map[string]string) *filetree.Tree {
	t.Helper()
	b := filetree.NewBuilder()
	for path, content := range files {
		if err := b.Add(path, content); err != nil {
			t.Fatalf("add %s: %v", path, err)
		}
	}
	return b.Build()
}

func TestNoManifestStatic(t *testing.T) {
	p := New(nil)
	prof := p.Profile(buildTree(t, map[string]string{
		"index.html": "<html></html>",
		"style.css":  "",
	}))

	if prof.Family != FamilyStaticSite {
		t.Fatalf("expected static-site, got %s", prof.Family)
	}
	if prof.EntryPoint != "index.html" {
		t.Fatalf("expected index.html entry, got %q", prof.EntryPoint)
	}
	if prof.Install.Program != "" {
		t.Fatal("static sites need no install step")
	}
}

func TestManifestWithoutScriptsIsStatic(t *testing.T) {
	p := New(nil)
	prof := p.Profile(buildTree(t, map[string]string{
		"package.json": `{"dependencies":{"react":"18.0.0"}}`,
		"index.html":   "<html></html>",
	}))

	// No run scripts means there is nothing to execute, regardless of deps.
	if prof.Family != FamilyStaticSite {
		t.Fatalf("expected static-site, got %s", prof.Family)
	}
}

func TestServerFrameworkNeedsFullToolchain(t *testing.T) {
	p := New(nil)
	prof := p.Profile(buildTree(t, map[string]string{
		"package.json": `{"dependencies":{"next":"14.0.0"},"scripts":{"dev":"next dev"}}`,
	}))

	if prof.Family != FamilyLegacyToolchain {
		t.Fatalf("expected legacy-spa-toolchain, got %s", prof.Family)
	}
	if !prof.NeedsFullToolchain {
		t.Fatal("server frameworks must request the full toolchain")
	}
	if prof.Start.Program != "npm" || len(prof.Start.Args) != 2 || prof.Start.Args[1] != "dev" {
		t.Fatalf("expected npm run dev, got %v %v", prof.Start.Program, prof.Start.Args)
	}
}

func TestServerFrameworkWinsOverUILibrary(t *testing.T) {
	p := New(nil)
	prof := p.Profile(buildTree(t, map[string]string{
		"package.json": `{"dependencies":{"next":"14.0.0","react":"18.0.0"},"scripts":{"dev":"next dev"}}`,
		"index.html":   "<html></html>",
	}))

	if prof.Family != FamilyLegacyToolchain || !prof.NeedsFullToolchain {
		t.Fatalf("server-framework rung must win, got %s", prof.Family)
	}
}

func TestHTMLEntryBundler(t *testing.T) {
	p := New(nil)
	prof := p.Profile(buildTree(t, map[string]string{
		"package.json": `{"devDependencies":{"vite":"5.0.0"},"dependencies":{"react":"18.0.0"},"scripts":{"dev":"vite"}}`,
		"index.html":   "<html></html>",
		"src/main.tsx": "createRoot()",
	}))

	if prof.Family != FamilyBuildToolSPA {
		t.Fatalf("expected build-tool-spa, got %s", prof.Family)
	}
	if prof.NeedsFullToolchain {
		t.Fatal("bundler SPAs run on the light path")
	}
	if prof.EntryPoint != "src/main.tsx" {
		t.Fatalf("expected src/main.tsx entry, got %q", prof.EntryPoint)
	}
}

func TestUILibraryWithoutHTMLEntry(t *testing.T) {
	p := New(nil)
	prof := p.Profile(buildTree(t, map[string]string{
		"package.json": `{"dependencies":{"react":"18.0.0"},"scripts":{"start":"react-scripts start"}}`,
		"src/index.js": "render()",
	}))

	if prof.Family != FamilyBuildToolSPA {
		t.Fatalf("expected build-tool-spa, got %s", prof.Family)
	}
	if prof.EntryPoint != "src/index.js" {
		t.Fatalf("expected src/index.js entry, got %q", prof.EntryPoint)
	}
	if prof.Start.Args[1] != "start" {
		t.Fatalf("expected npm run start, got %v", prof.Start.Args)
	}
}

func TestPlainScriptedProject(t *testing.T) {
	p := New(nil)
	prof := p.Profile(buildTree(t, map[string]string{
		"package.json": `{"scripts":{"serve":"node server.js"}}`,
		"server.js":    "",
	}))

	if prof.Family != FamilyUnknown {
		t.Fatalf("expected unknown, got %s", prof.Family)
	}
	// No dev/start script: generic npm start fallback.
	if prof.Start.Program != "npm" || prof.Start.Args[0] != "start" {
		t.Fatalf("expected npm start fallback, got %v %v", prof.Start.Program, prof.Start.Args)
	}
	if prof.Install.Program != "npm" {
		t.Fatal("scripted projects install dependencies")
	}
}

func TestMalformedManifestFallsBack(t *testing.T) {
	p := New(nil)
	prof := p.Profile(buildTree(t, map[string]string{
		"package.json": `{not json`,
		"index.html":   "<html></html>",
	}))

	// A manifest that cannot be parsed is treated as absent.
	if prof.Family != FamilyStaticSite {
		t.Fatalf("expected static-site, got %s", prof.Family)
	}
}

func TestEmptyTreeIsUnknown(t *testing.T) {
	p := New(nil)
	prof := p.Profile(filetree.New())
	if prof.Family != FamilyUnknown {
		t.Fatalf("expected unknown, got %s", prof.Family)
	}
}

func TestHasTypeConfig(t *testing.T) {
	if !HasTypeConfig(buildTree(t, map[string]string{"tsconfig.json": "{}"})) {
		t.Fatal("expected tsconfig.json to count")
	}
	if HasTypeConfig(buildTree(t, map[string]string{"src/app.ts": ""})) {
		t.Fatal("source files alone are not a type config")
	}
}

func TestHTMLEntryScanFallback(t *testing.T) {
	tree := buildTree(t, map[string]string{"app/www/index.html": "<html></html>"})
	if got := HTMLEntry(tree); got != "app/www/index.html" {
		t.Fatalf("expected scan to find nested index.html, got %q", got)
	}
}

func TestLoadRulesMissingFile(t *testing.T) {
	r, err := LoadRules(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing rules file must not error: %v", err)
	}
	if r != nil {
		t.Fatal("expected nil rules for missing file")
	}
}

func TestRulesOverrideExtendsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	data := "server_frameworks:\n  - my-framework\nentry_candidates:\n  - custom/entry.ts\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	override, err := LoadRules(path)
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}

	p := New(override)
	prof := p.Profile(buildTree(t, map[string]string{
		"package.json": `{"dependencies":{"my-framework":"1.0.0"},"scripts":{"dev":"mf dev"}}`,
	}))
	if prof.Family != FamilyLegacyToolchain {
		t.Fatalf("custom server framework marker not applied, got %s", prof.Family)
	}

	// Built-in markers still work alongside the override.
	prof = p.Profile(buildTree(t, map[string]string{
		"package.json": `{"dependencies":{"next":"14.0.0"},"scripts":{"dev":"next dev"}}`,
	}))
	if prof.Family != FamilyLegacyToolchain {
		t.Fatalf("built-in marker lost after override, got %s", prof.Family)
	}

	// Override entry candidates are tried before the defaults.
	prof = p.Profile(buildTree(t, map[string]string{
		"package.json":    `{"dependencies":{"react":"18.0.0"},"scripts":{"dev":"x"}}`,
		"custom/entry.ts": "",
		"src/index.js":    "",
	}))
	if prof.EntryPoint != "custom/entry.ts" {
		t.Fatalf("expected override entry candidate to win, got %q", prof.EntryPoint)
	}
}
