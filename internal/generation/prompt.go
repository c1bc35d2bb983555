package generation

import "strings"

// Dimensions is an image size in pixels.
type Dimensions struct {
	Width  int
	Height int
}

const defaultAspectRatio = "1:1"

var aspectRatios = map[string]Dimensions{
	"1:1":  {1024, 1024},
	"16:9": {1344, 768},
	"9:16": {768, 1344},
	"4:3":  {1152, 896},
	"3:4":  {896, 1152},
}

// ResolveAspectRatio maps a ratio name to pixel dimensions. Empty means 1:1.
func ResolveAspectRatio(ratio string) (string, Dimensions, bool) {
	ratio = strings.TrimSpace(ratio)
	if ratio == "" {
		ratio = defaultAspectRatio
	}
	d, ok := aspectRatios[ratio]
	return ratio, d, ok
}

// ComposePrompt joins the non-empty parts with ", ".
func ComposePrompt(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ", ")
}
