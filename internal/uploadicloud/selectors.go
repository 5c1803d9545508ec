package uploadicloud

import (
	"embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/sfdcai/media-pipeline/internal/media"
)

//go:embed bundled_selectors.json
var bundledSelectorsFS embed.FS

// selectorList is the on-disk shape of a selector candidate file (spec
// §4.9 expansion: "a JSON file keyed by uploadButtonSelectors").
type selectorList struct {
	UploadButtonSelectors []string `json:"uploadButtonSelectors"`
}

// loadBundledSelectors returns the compiled-in ordered candidate list.
func loadBundledSelectors() ([]string, error) {
	data, err := bundledSelectorsFS.ReadFile("bundled_selectors.json")
	if err != nil {
		return nil, fmt.Errorf("uploadicloud: reading bundled selectors: %w", err)
	}

	return parseSelectorList(data)
}

// loadSelectorsFile loads a candidate list from an operator-supplied JSON
// file, falling back to the bundled list when path is empty.
func loadSelectorsFile(path string) ([]string, error) {
	if path == "" {
		return loadBundledSelectors()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading selectors file %s: %w", media.ErrConfig, path, err)
	}

	return parseSelectorList(data)
}

func parseSelectorList(data []byte) ([]string, error) {
	var list selectorList
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("%w: decoding selector list: %w", media.ErrConfig, err)
	}

	return list.UploadButtonSelectors, nil
}
