package analysis

import (
	"context"
	"strings"

	"github.com/bobmcallan/yosoku/internal/interfaces"
)

// SelectModel picks one identifier from the credential's catalog. Preferences
// are substrings tried in order; the first catalog entry containing one wins.
// With no match the first catalog entry is used. Catalog errors are returned
// unmodified so the caller can classify them.
func SelectModel(ctx context.Context, catalog interfaces.ModelCatalog, preferences []string) (string, error) {
	available, err := catalog.ListModels(ctx)
	if err != nil {
		return "", err
	}
	return pickModel(available, preferences)
}

func pickModel(available, preferences []string) (string, error) {
	if len(available) == 0 {
		return "", newError(KindNoModelAvailable, "catalog is empty", nil)
	}

	for _, pref := range preferences {
		if pref == "" {
			continue
		}
		for _, id := range available {
			if strings.Contains(id, pref) {
				return id, nil
			}
		}
	}

	return available[0], nil
}
