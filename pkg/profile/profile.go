// Package profile classifies a repository snapshot to decide how to build
// and run it. Classification is a pure, deterministic traversal of the file
// tree: an ordered ladder of predicate→classification rules where the first
// match wins.
package profile

import (
	"encoding/json"
	"strings"

	"github.com/previewlabs/previewd/pkg/filetree"
)

// Family is the framework family a project belongs to.
type Family string

const (
	FamilyServerRendered  Family = "server-rendered-framework"
	FamilyBuildToolSPA    Family = "build-tool-spa"
	FamilyLegacyToolchain Family = "legacy-spa-toolchain"
	FamilyStaticSite      Family = "static-site"
	FamilyUnknown         Family = "unknown"
)

// Command is a program invocation inside the sandbox.
type Command struct {
	Program string   `json:"program"`
	Args    []string `json:"args,omitempty"`
}

// Profile is the classification of a project. It is created fresh on every
// mount and never mutated, only replaced.
type Profile struct {
	Family             Family  `json:"family"`
	NeedsFullToolchain bool    `json:"needs_full_toolchain"`
	EntryPoint         string  `json:"entry_point,omitempty"`
	Start              Command `json:"start"`
	Install            Command `json:"install"`
}

// manifest is the subset of package.json the profiler cares about.
type manifest struct {
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
	Scripts         map[string]string `json:"scripts"`
}

// facts is everything a rule may inspect, computed once per classification.
type facts struct {
	tree        *filetree.Tree
	hasManifest bool
	deps        map[string]string // runtime + dev dependencies merged
	scripts     map[string]string
	htmlEntry   string // first existing conventional HTML entry, or ""
}

// rule is a single rung on the detection ladder.
type rule struct {
	name  string
	match func(p *Profiler, f *facts) *Profile
}

// Profiler classifies file trees using the default marker lists, optionally
// extended by a rules override.
type Profiler struct {
	rules Rules
}

// New creates a Profiler. A nil override uses the built-in marker lists.
func New(override *Rules) *Profiler {
	return &Profiler{rules: mergeRules(override)}
}

// Rules returns the merged marker lists this profiler matches against.
func (p *Profiler) Rules() Rules {
	return p.rules
}

// Profile classifies the given tree. It never fails: trees that match no
// rule come back as FamilyUnknown and the caller picks a generic fallback
// start command.
func (p *Profiler) Profile(t *filetree.Tree) *Profile {
	f := gatherFacts(t)
	for _, r := range ladder {
		if prof := r.match(p, f); prof != nil {
			return prof
		}
	}
	return &Profile{Family: FamilyUnknown}
}

// ladder is the ordered detection ladder. Rules are evaluated top to bottom
// and the first non-nil result wins.
var ladder = []rule{
	{"no-manifest-static", ruleNoManifestStatic},
	{"no-scripts-static", ruleNoScriptsStatic},
	{"server-framework", ruleServerFramework},
	{"html-entry-bundler", ruleHTMLEntryBundler},
	{"ui-library", ruleUILibrary},
	{"plain-scripted", rulePlainScripted},
	{"fallback", ruleFallback},
}

// gatherFacts reads the manifest and HTML entry candidates once. A malformed
// manifest is swallowed and treated as absence of a manifest.
func gatherFacts(t *filetree.Tree) *facts {
	f := &facts{tree: t}
	for _, candidate := range htmlEntryCandidates {
		if t.HasFile(candidate) {
			f.htmlEntry = candidate
			break
		}
	}

	raw, ok := t.FileContent("package.json")
	if !ok {
		return f
	}
	var m manifest
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return f
	}
	f.hasManifest = true
	f.scripts = m.Scripts
	f.deps = make(map[string]string, len(m.Dependencies)+len(m.DevDependencies))
	for name, v := range m.Dependencies {
		f.deps[name] = v
	}
	for name, v := range m.DevDependencies {
		f.deps[name] = v
	}
	return f
}

func ruleNoManifestStatic(_ *Profiler, f *facts) *Profile {
	if f.hasManifest || f.htmlEntry == "" {
		return nil
	}
	return staticProfile(f.htmlEntry)
}

func ruleNoScriptsStatic(_ *Profiler, f *facts) *Profile {
	if !f.hasManifest || len(f.scripts) > 0 {
		return nil
	}
	// A manifest with zero run scripts is treated as plain assets.
	return staticProfile(f.htmlEntry)
}

func ruleServerFramework(p *Profiler, f *facts) *Profile {
	if !f.hasManifest || !hasAny(f.deps, p.rules.ServerFrameworks) {
		return nil
	}
	// Server-side and SSR frameworks need the heavier, slower execution
	// path with a full native toolchain.
	return &Profile{
		Family:             FamilyLegacyToolchain,
		NeedsFullToolchain: true,
		Start:              startFromScripts(f.scripts),
		Install:            npmInstall,
	}
}

func ruleHTMLEntryBundler(p *Profiler, f *facts) *Profile {
	if !f.hasManifest || f.htmlEntry == "" || !hasAny(f.deps, p.rules.HTMLEntryBundlers) {
		return nil
	}
	return &Profile{
		Family:     FamilyBuildToolSPA,
		EntryPoint: p.resolveEntry(f.tree),
		Start:      startFromScripts(f.scripts),
		Install:    npmInstall,
	}
}

func ruleUILibrary(p *Profiler, f *facts) *Profile {
	if !f.hasManifest || !hasAny(f.deps, p.rules.UILibraries) {
		return nil
	}
	return &Profile{
		Family:     FamilyBuildToolSPA,
		EntryPoint: p.resolveEntry(f.tree),
		Start:      startFromScripts(f.scripts),
		Install:    npmInstall,
	}
}

func rulePlainScripted(_ *Profiler, f *facts) *Profile {
	if !f.hasManifest {
		return nil
	}
	return &Profile{
		Family:  FamilyUnknown,
		Start:   startFromScripts(f.scripts),
		Install: npmInstall,
	}
}

func ruleFallback(_ *Profiler, f *facts) *Profile {
	if f.htmlEntry != "" {
		return staticProfile(f.htmlEntry)
	}
	return &Profile{Family: FamilyUnknown}
}

// resolveEntry returns the first conventional source entry file that exists,
// trying the newest convention first.
func (p *Profiler) resolveEntry(t *filetree.Tree) string {
	for _, candidate := range p.rules.EntryCandidates {
		if t.HasFile(candidate) {
			return candidate
		}
	}
	return ""
}

func staticProfile(entry string) *Profile {
	return &Profile{
		Family:     FamilyStaticSite,
		EntryPoint: entry,
		Start:      Command{Program: "npx", Args: []string{"--yes", "serve", "-l", "3000", "."}},
	}
}

var npmInstall = Command{Program: "npm", Args: []string{"install"}}

// startFromScripts picks the conventional dev script, falling back from
// "dev" to "start" to the generic npm start.
func startFromScripts(scripts map[string]string) Command {
	for _, name := range []string{"dev", "start"} {
		if _, ok := scripts[name]; ok {
			return Command{Program: "npm", Args: []string{"run", name}}
		}
	}
	return Command{Program: "npm", Args: []string{"start"}}
}

func hasAny(deps map[string]string, markers []string) bool {
	for _, marker := range markers {
		if _, ok := deps[marker]; ok {
			return true
		}
	}
	return false
}

// HasTypeConfig reports whether the tree carries a type-config file
// (tsconfig and friends). Used by the secondary bundler to pick the
// type-annotated template variant.
func HasTypeConfig(t *filetree.Tree) bool {
	for _, name := range []string{"tsconfig.json", "tsconfig.app.json", "jsconfig.json"} {
		if t.HasFile(name) {
			return true
		}
	}
	return false
}

// htmlEntryCandidates are the conventional HTML entry locations, in order.
var htmlEntryCandidates = []string{"index.html", "public/index.html", "src/index.html"}

// HTMLEntry returns the first conventional HTML entry present in the tree,
// falling back to scanning for any index.html.
func HTMLEntry(t *filetree.Tree) string {
	for _, candidate := range htmlEntryCandidates {
		if t.HasFile(candidate) {
			return candidate
		}
	}
	found := ""
	t.Walk(func(path string, _ *filetree.Node) {
		if found == "" && strings.HasSuffix(path, "/index.html") {
			found = path
		}
	})
	return found
}
