// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"slices"
)

// Id identifies a catalogued failure class.
type Id int

const (
	ExtensionNotFoundId Id = iota + 1
	ManifestInvalidId
	IntegrityViolationId
	ExtensionLoadFailedId
	NetworkUnavailableId
	RateLimitedId
	UnsupportedPlatformId
	ChecksumUnavailableId
	UpdateInProgressId
	ReplacementFailedId
	ManualReinstallId
	ConfigLoadFailedId
	ToolNotFoundId
	ToolNotInstalledId
)

// Issue is a failure class with remediation hints and documentation links.
type Issue struct {
	id          Id
	suggestions []string
	docLinks    []string
}

// Id returns the identifier.
func (i *Issue) Id() Id { return i.id }

// Suggestions returns a copy of the remediation hints.
func (i *Issue) Suggestions() []string { return slices.Clone(i.suggestions) }

// DocLinks returns a copy of the documentation links.
func (i *Issue) DocLinks() []string { return slices.Clone(i.docLinks) }

const docsURL = "https://github.com/dirvine/saorsa-cli#"

//nolint:gochecknoglobals // Read-only catalog.
var catalog = map[Id]*Issue{
	ExtensionNotFoundId: {
		id: ExtensionNotFoundId,
		suggestions: []string{
			"Run 'saorsa extensions list' to see discovered extensions",
			"Run 'saorsa extensions paths' to see where saorsa looks for saorsa-plugin.toml",
		},
		docLinks: []string{docsURL + "extensions"},
	},
	ManifestInvalidId: {
		id: ManifestInvalidId,
		suggestions: []string{
			"Check that saorsa-plugin.toml sets name, version, library and sha256",
			"The sha256 field must be 64 lowercase hex characters",
		},
		docLinks: []string{docsURL + "extension-manifest"},
	},
	IntegrityViolationId: {
		id: IntegrityViolationId,
		suggestions: []string{
			"The library does not match the digest in its manifest and was not loaded",
			"Reinstall the extension from a trusted source",
			"If you built it yourself, update sha256 with 'sha256sum <library>'",
		},
		docLinks: []string{docsURL + "extension-integrity"},
	},
	ExtensionLoadFailedId: {
		id: ExtensionLoadFailedId,
		suggestions: []string{
			"Check that the library was built for this operating system and architecture",
			"Check that it exports the entry symbol named by entry_symbol (default _plugin_init)",
		},
	},
	NetworkUnavailableId: {
		id: NetworkUnavailableId,
		suggestions: []string{
			"Check your internet connection and try again",
			"Behind a proxy, set HTTPS_PROXY",
		},
	},
	RateLimitedId: {
		id: RateLimitedId,
		suggestions: []string{
			"Set GITHUB_TOKEN to raise the GitHub API rate limit",
			"Wait for the limit to reset and try again",
		},
	},
	UnsupportedPlatformId: {
		id: UnsupportedPlatformId,
		suggestions: []string{
			"Pass --target with a supported triple, for example x86_64-unknown-linux-gnu",
			"Build from source with 'go install github.com/dirvine/saorsa-cli@latest'",
		},
	},
	ChecksumUnavailableId: {
		id: ChecksumUnavailableId,
		suggestions: []string{
			"The release has no usable CHECKSUMS.txt entry, so the update was refused",
			"Try again later or install a different version",
		},
	},
	UpdateInProgressId: {
		id:          UpdateInProgressId,
		suggestions: []string{"Wait for the running upgrade to finish"},
	},
	ReplacementFailedId: {
		id: ReplacementFailedId,
		suggestions: []string{
			"The previous binary was restored",
			"Check that you can write to the directory holding saorsa",
		},
	},
	ManualReinstallId: {
		id: ManualReinstallId,
		suggestions: []string{
			"The executable could not be restored automatically",
			"Reinstall saorsa from https://github.com/dirvine/saorsa-cli/releases",
			"A copy of the previous binary may remain next to the executable with the .old suffix",
		},
		docLinks: []string{docsURL + "installation"},
	},
	ConfigLoadFailedId: {
		id: ConfigLoadFailedId,
		suggestions: []string{
			"Check that the file contains valid CUE syntax",
			"Run 'saorsa config show' to see the effective configuration",
			"Run 'saorsa config init' to write a default config file",
		},
	},
	ToolNotFoundId: {
		id:          ToolNotFoundId,
		suggestions: []string{"Available tools: sb (saorsa-browser), sdisk (saorsa-disk), fd (fd-find), rg (ripgrep)"},
	},
	ToolNotInstalledId: {
		id: ToolNotInstalledId,
		suggestions: []string{
			"fd and rg are used from PATH and are never downloaded",
			"Install them with your package manager, for example 'brew install fd ripgrep'",
		},
	},
}

// Get returns the catalogued issue for id, or nil.
func Get(id Id) *Issue {
	return catalog[id]
}

// Values returns every catalogued issue ordered by Id.
func Values() []*Issue {
	out := make([]*Issue, 0, len(catalog))
	for _, is := range catalog {
		out = append(out, is)
	}
	slices.SortFunc(out, func(a, b *Issue) int { return int(a.id) - int(b.id) })
	return out
}
