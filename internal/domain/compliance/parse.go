package compliance

import "strings"

// ParseStatus maps a model-supplied status onto the closed enum.
// Anything unrecognised is NOT_ASSESSED.
func ParseStatus(raw string) Status {
	switch normalizeEnum(raw) {
	case "COMPLIANT":
		return StatusCompliant
	case "WARNING":
		return StatusWarning
	case "CRITICAL":
		return StatusCritical
	default:
		return StatusNotAssessed
	}
}

// ParseConfidence defaults to LOW for anything outside HIGH/MEDIUM/LOW.
func ParseConfidence(raw string) Confidence {
	switch normalizeEnum(raw) {
	case "HIGH":
		return ConfidenceHigh
	case "MEDIUM":
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// ParsePageType coerces unknown drawing types to other.
func ParsePageType(raw string) PageType {
	v := PageType(strings.ToLower(normalizeEnum(raw)))
	for _, t := range PageTypes {
		if t == v {
			return t
		}
	}
	return PageOther
}

// ParsePriority defaults to MEDIUM.
func ParsePriority(raw string) Priority {
	switch normalizeEnum(raw) {
	case "HIGH":
		return PriorityHigh
	case "LOW":
		return PriorityLow
	default:
		return PriorityMedium
	}
}

// ParseDocumentType accepts the declared upload type, including common aliases.
func ParseDocumentType(raw string) (DocumentType, error) {
	switch normalizeEnum(raw) {
	case "PDF", "APPLICATION/PDF":
		return DocumentPDF, nil
	case "PNG", "IMAGE/PNG":
		return DocumentPNG, nil
	case "JPG", "JPEG", "IMAGE/JPEG":
		return DocumentJPG, nil
	case "TIFF", "TIF", "IMAGE/TIFF":
		return DocumentTIFF, nil
	default:
		return "", ErrUnsupportedDocument
	}
}

func normalizeEnum(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "-", "_")
	return strings.ReplaceAll(s, " ", "_")
}
