package profile

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Rules holds the marker allow-lists the detection ladder matches against.
// Operators can extend the built-in lists from a YAML file; entries are
// appended to the defaults, never replacing them.
type Rules struct {
	// ServerFrameworks are dependency names indicating a server-side or SSR
	// framework that requires the full-toolchain execution path.
	ServerFrameworks []string `yaml:"server_frameworks"`

	// HTMLEntryBundlers are bundlers that use an HTML file as their own
	// entry point.
	HTMLEntryBundlers []string `yaml:"html_entry_bundlers"`

	// UILibraries are component-framework dependencies.
	UILibraries []string `yaml:"ui_libraries"`

	// EntryCandidates is the ordered list of conventional source entry
	// files, newest convention first.
	EntryCandidates []string `yaml:"entry_candidates"`
}

// defaultRules are the built-in marker lists.
var defaultRules = Rules{
	ServerFrameworks: []string{
		"next", "nuxt", "@remix-run/react", "@sveltejs/kit", "astro",
		"@nestjs/core", "express", "fastify", "koa", "hono",
	},
	HTMLEntryBundlers: []string{"vite", "parcel"},
	UILibraries:       []string{"react", "preact", "vue", "svelte", "solid-js"},
	EntryCandidates: []string{
		"src/main.tsx", "src/main.jsx", "src/main.ts", "src/main.js",
		"src/index.tsx", "src/index.jsx", "src/index.ts", "src/index.js",
		"main.js", "index.js",
	},
}

// LoadRules reads a rules override from a YAML file. A missing file is not
// an error; it simply yields no overrides.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading rules file: %w", err)
	}

	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &r, nil
}

// mergeRules appends override entries to the defaults. Entry candidates from
// the override are tried before the defaults so operators can promote a
// newer convention.
func mergeRules(override *Rules) Rules {
	merged := Rules{
		ServerFrameworks:  append([]string(nil), defaultRules.ServerFrameworks...),
		HTMLEntryBundlers: append([]string(nil), defaultRules.HTMLEntryBundlers...),
		UILibraries:       append([]string(nil), defaultRules.UILibraries...),
		EntryCandidates:   append([]string(nil), defaultRules.EntryCandidates...),
	}
	if override == nil {
		return merged
	}
	merged.ServerFrameworks = append(merged.ServerFrameworks, override.ServerFrameworks...)
	merged.HTMLEntryBundlers = append(merged.HTMLEntryBundlers, override.HTMLEntryBundlers...)
	merged.UILibraries = append(merged.UILibraries, override.UILibraries...)
	if len(override.EntryCandidates) > 0 {
		merged.EntryCandidates = append(append([]string(nil), override.EntryCandidates...), merged.EntryCandidates...)
	}
	return merged
}
