package model

// File is one source file handed to the scanners.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// ProjectInfo is derived once per lightweight run and passed read-only to
// every scanner. Ecosystems maps each dependency to the registry of the
// manifest that declared it (npm, pypi, go, crates).
type ProjectInfo struct {
	Language         string            `json:"language"`
	Framework        string            `json:"framework,omitempty"`
	Dependencies     map[string]string `json:"dependencies"`
	Ecosystems       map[string]string `json:"ecosystems,omitempty"`
	HasGitignore     bool              `json:"has_gitignore"`
	GitignoreEntries []string          `json:"gitignore_entries,omitempty"`
}
