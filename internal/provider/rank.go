package provider

import (
	"sort"
	"strings"

	"github.com/veranemoloko/media-pipeline/internal/domain"
)

// RankVariants returns variants in selection order: variants whose
// container is in preferred come first, in manifest order; the remainder
// follow by bitrate, highest first, ties kept in manifest order. The input
// slice is not modified.
func RankVariants(variants []domain.StreamVariant, preferred []string) []domain.StreamVariant {
	pref := make(map[string]struct{}, len(preferred))
	for _, c := range preferred {
		pref[normalizeContainer(c)] = struct{}{}
	}

	type ranked struct {
		v         domain.StreamVariant
		index     int
		preferred bool
	}

	items := make([]ranked, len(variants))
	for i, v := range variants {
		_, ok := pref[normalizeContainer(v.Container)]
		items[i] = ranked{v: v, index: i, preferred: ok}
	}

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.preferred != b.preferred {
			return a.preferred
		}
		if a.preferred {
			return a.index < b.index
		}
		if a.v.Bitrate != b.v.Bitrate {
			return a.v.Bitrate > b.v.Bitrate
		}
		return a.index < b.index
	})

	out := make([]domain.StreamVariant, len(items))
	for i, it := range items {
		out[i] = it.v
	}
	return out
}

func normalizeContainer(c string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(c), "."))
}
