package generation

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"

	api "github.com/statichq/sitesmith/api/v1alpha1"
)

// InvalidManifestError reports a completion that could not be turned into a
// usable manifest.
type InvalidManifestError struct {
	Reason string
}

func (e *InvalidManifestError) Error() string {
	return fmt.Sprintf("invalid manifest: %s", e.Reason)
}

// ParseManifest extracts the manifest JSON object from a raw model
// completion. Models routinely wrap the object in markdown fences or prose,
// so the parser locates the outermost braces rather than demanding a bare
// document.
func ParseManifest(content string) (*api.Manifest, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, &InvalidManifestError{Reason: "empty completion"}
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, &InvalidManifestError{Reason: "no JSON object in completion"}
	}

	var manifest api.Manifest
	if err := json.Unmarshal([]byte(content[start:end+1]), &manifest); err != nil {
		return nil, &InvalidManifestError{Reason: fmt.Sprintf("malformed JSON: %v", err)}
	}
	if err := validateManifest(&manifest); err != nil {
		return nil, err
	}
	return &manifest, nil
}

func validateManifest(m *api.Manifest) error {
	if len(m.Files) == 0 {
		return &InvalidManifestError{Reason: "manifest has no files"}
	}
	for _, f := range m.Files {
		if f.Path == "" {
			return &InvalidManifestError{Reason: "manifest entry with empty path"}
		}
		if path.IsAbs(f.Path) || strings.HasPrefix(f.Path, "..") || strings.Contains(f.Path, "/../") {
			return &InvalidManifestError{Reason: fmt.Sprintf("manifest path escapes workspace: %s", f.Path)}
		}
		switch f.Encoding {
		case "", "text", "base64":
		default:
			return &InvalidManifestError{Reason: fmt.Sprintf("unknown encoding %q for %s", f.Encoding, f.Path)}
		}
	}
	return nil
}
