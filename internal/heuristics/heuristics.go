// Package heuristics performs rule-based classification of a file from
// its storage path and filename alone. It is the cheapest enrichment
// source in the pipeline and the only one that cannot fail, so the
// merge engine uses it as the baseline every other source refines.
package heuristics

import (
	"path"
	"regexp"
	"strconv"
	"strings"
)

type Classification struct {
	ContentType      string
	FacilityLocation string
	Department       string
	Importance       string
	UsageRights      string
	Keywords         []string
	Subject          string

	// Dimensions recovered from a WIDTHxHEIGHT filename pattern; a
	// fallback for files whose embedded metadata is absent.
	ImageWidth  *int
	ImageHeight *int
}

// contentRule couples a set of trigger substrings with the full
// classification tuple it implies. Rules are evaluated in order and
// the first match wins, so more specific rules must sit higher.
type contentRule struct {
	triggers    []string
	contentType string
	department  string
	importance  string
	usageRights string
}

var contentRules = []contentRule{
	{[]string{"artwork", "sculpture", "painting", "exhibit", "gallery"}, "artwork", "collections", "high", "restricted"},
	{[]string{"event", "opening", "reception", "launch"}, "event", "marketing", "medium", "public"},
	{[]string{"staff", "team", "portrait", "headshot"}, "people", "hr", "medium", "internal"},
	{[]string{"product", "catalog", "catalogue"}, "product", "sales", "medium", "commercial"},
	{[]string{"document", "scan", "receipt", "invoice"}, "document", "administration", "low", "internal"},
	{[]string{"screenshot", "screen shot"}, "screenshot", "it", "low", "internal"},
}

// facilityRules maps path/name keywords to the canonical facility
// location labels used by the metadata schema. First match wins.
var facilityRules = []struct {
	keyword  string
	location string
}{
	{"studio1", "studio_1"},
	{"studio2", "studio_2"},
	{"studio3", "studio_3"},
	{"main gallery", "main_gallery"},
	{"gallery", "main_gallery"},
	{"warehouse", "warehouse"},
	{"archive", "archive_vault"},
	{"office", "office"},
	{"offsite", "offsite"},
}

// fillerSegments are path segments that describe the storage layout
// rather than the content, and are dropped from keyword extraction.
var fillerSegments = map[string]bool{
	"files":     true,
	"file":      true,
	"root":      true,
	"all files": true,
	"images":    true,
	"img":       true,
}

var (
	dimensionPattern = regexp.MustCompile(`(?i)(\d{2,5})x(\d{2,5})`)
	separatorPattern = regexp.MustCompile(`[_\-\.\s]+`)
	wordPattern      = regexp.MustCompile(`[a-zA-Z0-9]+`)
)

type Analyzer struct{}

// Classify derives the full heuristic classification for a file. It
// never fails; unmatched inputs fall through to the schema defaults
// ("other" content, "unknown" location).
func (analyzer *Analyzer) Classify(folderPath string, filename string) Classification {
	haystack := strings.ToLower(folderPath + "/" + filename)

	classification := Classification{
		ContentType:      "other",
		FacilityLocation: "unknown",
		Department:       "general",
		Importance:       "low",
		UsageRights:      "internal",
	}

	for _, rule := range contentRules {
		if matchesAny(haystack, rule.triggers) {
			classification.ContentType = rule.contentType
			classification.Department = rule.department
			classification.Importance = rule.importance
			classification.UsageRights = rule.usageRights
			break
		}
	}

	for _, rule := range facilityRules {
		if strings.Contains(haystack, rule.keyword) {
			classification.FacilityLocation = rule.location
			break
		}
	}

	if width, height, ok := extractDimensions(filename); ok {
		classification.ImageWidth = &width
		classification.ImageHeight = &height
	}

	classification.Keywords = extractKeywords(folderPath, filename)
	if tokens := nameTokens(filename); len(tokens) > 0 {
		// A token from the filename itself is the best subject guess.
		classification.Subject = tokens[0]
	} else if len(classification.Keywords) > 0 {
		classification.Subject = classification.Keywords[0]
	}

	return classification
}

// extractDimensions recovers WIDTHxHEIGHT dimensions embedded in a
// filename (a convention of export tooling).
func extractDimensions(filename string) (int, int, bool) {
	groups := dimensionPattern.FindStringSubmatch(filename)
	if groups == nil {
		return 0, 0, false
	}

	width, werr := strconv.Atoi(groups[1])
	height, herr := strconv.Atoi(groups[2])
	if werr != nil || herr != nil || width == 0 || height == 0 {
		return 0, 0, false
	}

	return width, height, true
}

// extractKeywords builds the keyword set: meaningful path segments
// first, then filename tokens, deduplicated case-insensitively while
// preserving first-seen order.
func extractKeywords(folderPath string, filename string) []string {
	seen := make(map[string]bool)
	keywords := make([]string, 0)

	appendKeyword := func(word string) {
		normalized := strings.ToLower(strings.TrimSpace(word))
		if len(normalized) <= 2 || seen[normalized] {
			return
		}

		seen[normalized] = true
		keywords = append(keywords, normalized)
	}

	for _, segment := range strings.Split(folderPath, "/") {
		segment = strings.TrimSpace(segment)
		if segment == "" || fillerSegments[strings.ToLower(segment)] {
			continue
		}

		appendKeyword(separatorPattern.ReplaceAllString(segment, " "))
	}

	for _, token := range nameTokens(filename) {
		appendKeyword(token)
	}

	return keywords
}

// nameTokens tokenizes a filename: the extension and any embedded
// WIDTHxHEIGHT pattern are stripped, separators normalized to spaces,
// then words longer than 2 characters are kept.
func nameTokens(filename string) []string {
	base := strings.TrimSuffix(filename, path.Ext(filename))
	base = dimensionPattern.ReplaceAllString(base, " ")
	base = separatorPattern.ReplaceAllString(base, " ")

	tokens := make([]string, 0)
	for _, word := range wordPattern.FindAllString(base, -1) {
		if len(word) > 2 {
			tokens = append(tokens, strings.ToLower(word))
		}
	}

	return tokens
}

func matchesAny(haystack string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(haystack, needle) {
			return true
		}
	}

	return false
}
