package listing

import (
	"strings"

	"listing-wizard/internal/wizard"
)

var photoAliases = map[string]string{
	"tires":      "tyres",
	"tyre":       "tyres",
	"feature":    "features",
	"defect":     "defects",
	"damages":    "defects",
	"front_view": "front",
	"rear_view":  "rear",
	"left_side":  "left",
	"right_side": "right",
}

// ReshapePhotos maps uploaded photo groups onto the categories of a
// schema. Category names match case-insensitively, unknown categories
// are dropped and every expected category is present.
func ReshapePhotos(in wizard.PhotoCollection, categories []string) map[string][]string {
	out := make(map[string][]string, len(categories))
	for _, c := range categories {
		out[c] = []string{}
	}

	for name, urls := range in {
		key := strings.ToLower(strings.TrimSpace(name))
		key = strings.ReplaceAll(key, " ", "_")
		if alias, ok := photoAliases[key]; ok {
			key = alias
		}
		if _, ok := out[key]; !ok {
			continue
		}
		for _, u := range urls {
			if u = strings.TrimSpace(u); u != "" {
				out[key] = append(out[key], u)
			}
		}
	}
	return out
}
