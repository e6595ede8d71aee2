package allocation

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// SearchLots filters lots whose code, batch number or supplier name contain
// every whitespace-separated term of query. Matching ignores case and
// Vietnamese diacritics, so "lo-da-nang" matches "LÔ-ĐÀ-NẴNG".
func SearchLots(lots []Lot, query string) []Lot {
	terms := strings.Fields(foldForSearch(query))
	if len(terms) == 0 {
		out := make([]Lot, len(lots))
		copy(out, lots)
		return out
	}

	out := make([]Lot, 0, len(lots))
	for _, lot := range lots {
		haystack := foldForSearch(lotSearchText(lot))
		if containsAll(haystack, terms) {
			out = append(out, lot)
		}
	}
	return out
}

func lotSearchText(lot Lot) string {
	parts := []string{lot.Code, lot.BatchNumber}
	if lot.Supplier != nil {
		parts = append(parts, lot.Supplier.Name)
	}
	return strings.Join(parts, " ")
}

func containsAll(haystack string, terms []string) bool {
	for _, term := range terms {
		if !strings.Contains(haystack, term) {
			return false
		}
	}
	return true
}

// foldForSearch strips combining marks and case-folds s. Transformers keep
// state, so a fresh chain is built per call.
func foldForSearch(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	// đ has no decomposition
	stripped = strings.NewReplacer("đ", "d", "Đ", "D").Replace(stripped)
	return cases.Fold().String(stripped)
}
