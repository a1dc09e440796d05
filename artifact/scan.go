package artifact

import (
	"mime"
	"path"
	"regexp"
	"strings"

	"github.com/justapithecus/sluice/types"
)

// markdownImagePattern matches markdown image syntax: ![alt](url).
var markdownImagePattern = regexp.MustCompile(`!\[([^\]]*)\]\((https?://[^)\s]+)\)`)

// bareImageURLPattern matches bare URLs with a recognizable image extension.
var bareImageURLPattern = regexp.MustCompile(`https?://[^\s<>"')]+\.(?:png|jpe?g|gif|webp|svg)`)

// scanEmbeddedRefs extracts deferred references from prose. Markdown image
// links are preferred; bare image URLs not already covered by a markdown
// match are added after. Best effort only.
func scanEmbeddedRefs(text string) []types.ArtifactRef {
	var refs []types.ArtifactRef
	covered := make(map[string]struct{})

	for _, m := range markdownImagePattern.FindAllStringSubmatch(text, -1) {
		alt, url := m[1], m[2]
		covered[url] = struct{}{}
		refs = append(refs, types.ArtifactRef{
			Kind:      types.ArtifactDeferred,
			Name:      alt,
			MediaType: mediaTypeFromURL(url),
			URL:       url,
		})
	}

	for _, url := range bareImageURLPattern.FindAllString(text, -1) {
		if _, seen := covered[url]; seen {
			continue
		}
		covered[url] = struct{}{}
		refs = append(refs, types.ArtifactRef{
			Kind:      types.ArtifactDeferred,
			MediaType: mediaTypeFromURL(url),
			URL:       url,
		})
	}

	return refs
}

// mediaTypeFromURL guesses a media type from the URL path extension.
// Empty when the extension is unknown; the fetch response's declared
// content type wins anyway.
func mediaTypeFromURL(url string) string {
	ext := path.Ext(stripQuery(url))
	if ext == "" {
		return ""
	}
	mt := mime.TypeByExtension(strings.ToLower(ext))
	// TypeByExtension may include parameters; the bare type is enough.
	if idx := strings.IndexByte(mt, ';'); idx >= 0 {
		mt = mt[:idx]
	}
	return mt
}

func stripQuery(url string) string {
	if idx := strings.IndexByte(url, '?'); idx >= 0 {
		return url[:idx]
	}
	return url
}
