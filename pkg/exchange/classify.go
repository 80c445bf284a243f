package exchange

import "strings"

// Classification is the coarse content-type bucket for a captured response.
// It is derived once from the final response headers and never changes.
type Classification string

const (
	ClassificationJSON  Classification = "json"
	ClassificationXML   Classification = "xml"
	ClassificationHTML  Classification = "html"
	ClassificationImage Classification = "image"
	ClassificationOther Classification = "other"
)

// IsValid checks if the classification is one of the known buckets.
func (c Classification) IsValid() bool {
	switch c {
	case ClassificationJSON, ClassificationXML, ClassificationHTML, ClassificationImage, ClassificationOther:
		return true
	default:
		return false
	}
}

// Classify derives a Classification from a Content-Type header value.
// Parameters (charset and friends) are ignored; matching is case-insensitive.
func Classify(contentType string) Classification {
	mediaType := contentType
	if idx := strings.IndexByte(mediaType, ';'); idx >= 0 {
		mediaType = mediaType[:idx]
	}
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))

	// The image test runs first: image/svg+xml is an image, not XML.
	switch {
	case strings.HasPrefix(mediaType, "image/"):
		return ClassificationImage
	case strings.Contains(mediaType, "json"):
		return ClassificationJSON
	case strings.Contains(mediaType, "xml"):
		return ClassificationXML
	case strings.Contains(mediaType, "html"):
		return ClassificationHTML
	default:
		return ClassificationOther
	}
}
