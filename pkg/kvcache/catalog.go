package kvcache

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// CatalogKeys reads the on-disk catalog under dir and returns every key it
// records, sorted. It does not require a [Store] and does not consult any
// in-memory state, so it may observe a key set older than a running
// Store's live map if a flush is pending. A missing catalog returns an
// empty, nil-error result.
func CatalogKeys(dir string) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(dir, catalogName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("kvcache: read catalog: %w", err)
	}

	records, _, err := decodeCatalog(bytes.NewReader(data))
	if err != nil && err != errVersionMismatch {
		return nil, fmt.Errorf("kvcache: decode catalog: %w", err)
	}

	if err == errVersionMismatch {
		return nil, nil
	}

	keys := make([]string, 0, len(records))
	for _, rec := range records {
		keys = append(keys, rec.key)
	}

	sort.Strings(keys)

	return keys, nil
}
