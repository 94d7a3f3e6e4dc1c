// Package bundler selects a fallback bundling plan for the secondary
// execution engine, used when the primary sandbox cannot run a project's
// full toolchain for the current viewing context.
//
// The secondary engine ships its own default scaffolding templates, so the
// selector must decide not only how to run the project but also whether a
// built-in template would clobber the project's real entry files. It runs
// its own lighter-weight ladder, independent of the project profiler.
package bundler

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/previewlabs/previewd/pkg/filetree"
	"github.com/previewlabs/previewd/pkg/profile"
)

// Mode describes how the secondary engine should run the project.
type Mode string

const (
	// ModeStatic serves plain assets around an HTML entry.
	ModeStatic Mode = "static"
	// ModeFullEmulation is the slow path for server-side frameworks that
	// need toolchain emulation; it gets a longer timeout budget.
	ModeFullEmulation Mode = "needs-full-emulation"
	// ModeHTMLEntry runs an HTML-entry bundler project without applying
	// any built-in template.
	ModeHTMLEntry Mode = "html-entry"
	// ModeTemplate applies one of the engine's built-in templates.
	ModeTemplate Mode = "template"
	// ModeScripted is the generic fallback for plain scripted projects.
	ModeScripted Mode = "scripted"
)

// Template names a built-in scaffold of the secondary engine.
type Template string

const (
	TemplateNone    Template = ""
	TemplateReact   Template = "create-react-app"
	TemplateReactTS Template = "create-react-app-typescript"
	TemplateVue     Template = "vue"
	TemplateNode    Template = "node"
	TemplateStatic  Template = "static"
)

// MaxFileSize is the admission threshold for a single file. The secondary
// engine has no filesystem isolation; oversized files choke it.
const MaxFileSize = 100 * 1024

// DefaultTimeout is the ready budget for ordinary secondary plans.
const DefaultTimeout = 30 * time.Second

// EmulationTimeout is the ready budget for the full-emulation path.
const EmulationTimeout = 2 * time.Minute

// Plan is the instruction set handed to the secondary engine: which
// template (if any), which entry point, the dependency manifest to resolve
// modules from, and the admitted files.
type Plan struct {
	Mode         Mode              `json:"mode"`
	Template     Template          `json:"template,omitempty"`
	EntryPoint   string            `json:"entry_point,omitempty"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
	Timeout      time.Duration     `json:"timeout"`
	Files        map[string]string `json:"files"`
}

// Selector picks secondary bundling plans. Marker lists are shared with the
// profiler's rule set so both ladders agree on what a framework looks like.
type Selector struct {
	rules profile.Rules
}

// New creates a Selector using the given marker rules.
func New(rules profile.Rules) *Selector {
	return &Selector{rules: rules}
}

// Select classifies the tree and returns the plan for the secondary engine.
//
// The HTML-entry branch is deliberately checked before the UI-library
// branch: a project matching both gets the html-entry treatment. That
// precedence is a carried-over product policy, not a correctness rule.
func (s *Selector) Select(t *filetree.Tree) *Plan {
	deps, scripts := readManifest(t)
	files := AdmitFiles(t)

	// No run scripts declared: serve as plain assets.
	if len(scripts) == 0 {
		return &Plan{
			Mode:       ModeStatic,
			Template:   TemplateStatic,
			EntryPoint: profile.HTMLEntry(t),
			Timeout:    DefaultTimeout,
			Files:      files,
		}
	}

	if hasAny(deps, s.rules.ServerFrameworks) {
		return &Plan{
			Mode:         ModeFullEmulation,
			Dependencies: deps,
			Timeout:      EmulationTimeout,
			Files:        files,
		}
	}

	if entry := profile.HTMLEntry(t); entry != "" && hasAny(deps, s.rules.HTMLEntryBundlers) {
		// Applying a built-in template here would clobber the project's
		// own HTML entry. Declare the entry explicitly and forward the
		// manifest so the engine can resolve modules without its scaffold.
		return &Plan{
			Mode:         ModeHTMLEntry,
			Template:     TemplateNone,
			EntryPoint:   entry,
			Dependencies: deps,
			Timeout:      DefaultTimeout,
			Files:        files,
		}
	}

	if hasAny(deps, s.rules.UILibraries) {
		return &Plan{
			Mode:         ModeTemplate,
			Template:     uiTemplate(t, deps),
			EntryPoint:   s.resolveEntry(t),
			Dependencies: deps,
			Timeout:      DefaultTimeout,
			Files:        files,
		}
	}

	return &Plan{
		Mode:         ModeScripted,
		Template:     TemplateNode,
		Dependencies: deps,
		Timeout:      DefaultTimeout,
		Files:        files,
	}
}

func (s *Selector) resolveEntry(t *filetree.Tree) string {
	for _, candidate := range s.rules.EntryCandidates {
		if t.HasFile(candidate) {
			return candidate
		}
	}
	return ""
}

// uiTemplate picks the built-in template matching the UI library, with the
// type-annotated variant when a type-config file is present.
func uiTemplate(t *filetree.Tree, deps map[string]string) Template {
	if _, ok := deps["vue"]; ok {
		return TemplateVue
	}
	if profile.HasTypeConfig(t) {
		return TemplateReactTS
	}
	return TemplateReact
}

// skipDirs are directory names never handed to the secondary engine.
var skipDirs = map[string]struct{}{
	".git":         {},
	"node_modules": {},
	"dist":         {},
	"build":        {},
	".next":        {},
	"out":          {},
	"coverage":     {},
}

// lockfiles the secondary engine must not see; it resolves modules from the
// manifest instead.
var lockfiles = map[string]struct{}{
	"package-lock.json": {},
	"yarn.lock":         {},
	"pnpm-lock.yaml":    {},
	"bun.lockb":         {},
}

// moduleEnvRef matches the primary sandbox's module-time environment
// variable syntax.
var moduleEnvRef = regexp.MustCompile(`import\.meta\.env\.([A-Za-z_][A-Za-z0-9_]*)`)

// AdmitFiles filters the tree down to what the secondary engine can safely
// consume: no lockfiles, build output, VCS internals, env files, or
// oversized files. Module-time env-var references are rewritten to the
// process-time equivalent the engine supports.
func AdmitFiles(t *filetree.Tree) map[string]string {
	files := make(map[string]string)
	t.Walk(func(path string, n *filetree.Node) {
		if !admit(path, n.Content) {
			return
		}
		files[path] = RewriteEnvRefs(n.Content)
	})
	return files
}

func admit(path, content string) bool {
	segs := strings.Split(path, "/")
	for _, seg := range segs[:len(segs)-1] {
		if _, skip := skipDirs[seg]; skip {
			return false
		}
	}
	base := segs[len(segs)-1]
	if _, skip := lockfiles[base]; skip {
		return false
	}
	if base == ".env" || strings.HasPrefix(base, ".env.") {
		return false
	}
	return len(content) <= MaxFileSize
}

// RewriteEnvRefs rewrites import.meta.env.X references to process.env.X.
func RewriteEnvRefs(content string) string {
	return moduleEnvRef.ReplaceAllString(content, "process.env.$1")
}

func readManifest(t *filetree.Tree) (deps, scripts map[string]string) {
	raw, ok := t.FileContent("package.json")
	if !ok {
		return nil, nil
	}
	var m struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
		Scripts         map[string]string `json:"scripts"`
	}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, nil
	}
	deps = make(map[string]string, len(m.Dependencies)+len(m.DevDependencies))
	for name, v := range m.Dependencies {
		deps[name] = v
	}
	for name, v := range m.DevDependencies {
		deps[name] = v
	}
	return deps, m.Scripts
}

func hasAny(deps map[string]string, markers []string) bool {
	for _, marker := range markers {
		if _, ok := deps[marker]; ok {
			return true
		}
	}
	return false
}
