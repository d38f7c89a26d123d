package vision

import (
	"fmt"
	"sort"
	"strings"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
)

// Scene synthesis buckets the backend's labels and objects into five
// coarse categories and renders a short templated summary. The people
// bucket is prioritized: a photo of a person at a beach is a photo of
// a person, not a photo of a beach.

var (
	peopleTerms = []string{
		"person", "people", "man", "woman", "child", "boy", "girl",
		"face", "portrait", "crowd", "human", "smile",
	}
	activityTerms = []string{
		"running", "dancing", "meeting", "ceremony", "sport", "performance",
		"cooking", "reading", "presentation", "celebration", "wedding",
	}
	placeTerms = []string{
		"beach", "mountain", "building", "museum", "gallery", "studio",
		"street", "park", "room", "office", "warehouse", "landscape",
		"city", "interior", "sky", "forest",
	}
	conceptTerms = []string{
		"art", "design", "vintage", "modern", "abstract", "minimal",
		"pattern", "texture", "style", "fashion", "architecture",
	}
)

type sceneBuckets struct {
	people     []string
	objects    []string
	activities []string
	places     []string
	concepts   []string
}

// synthesizeScene renders a one-line description such as
// "2 people at a museum, featuring sculpture and pedestal".
func synthesizeScene(analysis *Analysis) string {
	buckets := bucketize(analysis)

	parts := make([]string, 0, 3)

	if analysis.FaceCount > 0 || len(buckets.people) > 0 {
		count := analysis.FaceCount
		if count == 0 {
			count = 1
		}
		noun := "people"
		if count == 1 {
			noun = "person"
		}
		parts = append(parts, fmt.Sprintf("%d %s", count, noun))
	}

	if len(buckets.places) > 0 {
		parts = append(parts, "at a "+buckets.places[0])
	}

	featured := append(append([]string{}, buckets.objects...), buckets.activities...)
	if len(featured) > 3 {
		featured = featured[:3]
	}
	if len(featured) > 0 {
		parts = append(parts, "featuring "+joinNatural(featured))
	}

	if len(parts) == 0 {
		if len(buckets.concepts) > 0 {
			return "Image of " + joinNatural(buckets.concepts[:min(2, len(buckets.concepts))])
		}
		return ""
	}

	return strings.Join(parts, ", ")
}

// bucketize sorts labels and objects (highest confidence first) into
// the scene buckets, deduplicating near-identical terms so plural and
// singular forms of the same word do not appear twice.
func bucketize(analysis *Analysis) sceneBuckets {
	type term struct {
		text       string
		confidence float64
	}

	terms := make([]term, 0, len(analysis.Labels)+len(analysis.Objects))
	for _, label := range analysis.Labels {
		terms = append(terms, term{strings.ToLower(label.Description), label.Confidence})
	}
	for _, object := range analysis.Objects {
		terms = append(terms, term{strings.ToLower(object.Name), object.Confidence})
	}
	sort.SliceStable(terms, func(i, j int) bool { return terms[i].confidence > terms[j].confidence })

	similarity := &metrics.JaroWinkler{CaseSensitive: false}
	seen := make([]string, 0, len(terms))
	buckets := sceneBuckets{}

	for _, candidate := range terms {
		duplicate := false
		for _, existing := range seen {
			if strutil.Similarity(candidate.text, existing, similarity) > 0.92 {
				duplicate = true
				break
			}
		}
		if duplicate {
			continue
		}
		seen = append(seen, candidate.text)

		switch {
		case containsTerm(peopleTerms, candidate.text):
			buckets.people = append(buckets.people, candidate.text)
		case containsTerm(activityTerms, candidate.text):
			buckets.activities = append(buckets.activities, candidate.text)
		case containsTerm(placeTerms, candidate.text):
			buckets.places = append(buckets.places, candidate.text)
		case containsTerm(conceptTerms, candidate.text):
			buckets.concepts = append(buckets.concepts, candidate.text)
		default:
			buckets.objects = append(buckets.objects, candidate.text)
		}
	}

	return buckets
}

func containsTerm(vocabulary []string, candidate string) bool {
	for _, entry := range vocabulary {
		if strings.Contains(candidate, entry) {
			return true
		}
	}

	return false
}

func joinNatural(words []string) string {
	switch len(words) {
	case 0:
		return ""
	case 1:
		return words[0]
	default:
		return strings.Join(words[:len(words)-1], ", ") + " and " + words[len(words)-1]
	}
}
