package metadata_test

import (
	"testing"
	"time"

	"github.com/hbomb79/Iris/internal/exif"
	"github.com/hbomb79/Iris/internal/geocode"
	"github.com/hbomb79/Iris/internal/heuristics"
	"github.com/hbomb79/Iris/internal/metadata"
	"github.com/hbomb79/Iris/internal/vision"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int             { return &v }
func strPtr(v string) *string       { return &v }
func floatPtr(v float64) *float64   { return &v }
func timePtr(v time.Time) *time.Time { return &v }

func Test_Merge_TechnicalOverridesHeuristicDimensions(t *testing.T) {
	t.Parallel()

	record := metadata.Merge("file-1", 1, metadata.Sources{
		Heuristics: &heuristics.Classification{
			ContentType: "artwork",
			ImageWidth:  intPtr(3000),
			ImageHeight: intPtr(2000),
		},
		Technical: &exif.TechnicalMetadataRecord{
			Width:       intPtr(6000),
			Height:      intPtr(4000),
			CameraMake:  strPtr("Canon"),
			CameraModel: strPtr("EOS R5"),
			CapturedAt:  timePtr(time.Date(2023, 6, 15, 14, 30, 0, 0, time.UTC)),
		},
	})

	require.NotNil(t, record.ImageWidth)
	assert.Equal(t, 6000, *record.ImageWidth, "embedded directory dimensions outrank filename-derived ones")
	assert.Equal(t, 4000, *record.ImageHeight)
	assert.Equal(t, "Canon", *record.CameraMake)
	assert.Equal(t, metadata.StageExifExtracted, record.ProcessingStage)
}

func Test_Merge_HeuristicDimensionsSurviveWithoutTechnical(t *testing.T) {
	t.Parallel()

	record := metadata.Merge("file-1", 1, metadata.Sources{
		Heuristics: &heuristics.Classification{
			ContentType: "other",
			ImageWidth:  intPtr(3000),
			ImageHeight: intPtr(2000),
		},
	})

	require.NotNil(t, record.ImageWidth)
	assert.Equal(t, 3000, *record.ImageWidth)
	assert.Equal(t, metadata.StageBasic, record.ProcessingStage)
}

func Test_Merge_VisionOverridesOnlyWithStrongerSignal(t *testing.T) {
	t.Parallel()

	heurDefault := &heuristics.Classification{ContentType: "other", Keywords: []string{"misc"}}
	heurSpecific := &heuristics.Classification{ContentType: "event", Keywords: []string{"gala"}}

	confident := &vision.Analysis{
		Labels:              []vision.Label{{Description: "Sculpture", Confidence: 0.95}},
		AggregateConfidence: 0.95,
	}
	unsure := &vision.Analysis{
		Labels:              []vision.Label{{Description: "Sculpture", Confidence: 0.4}},
		AggregateConfidence: 0.4,
	}

	// Confident label + default heuristic: vision wins.
	record := metadata.Merge("f", 1, metadata.Sources{Heuristics: heurDefault, Vision: confident})
	assert.Equal(t, "artwork", record.ContentType)
	require.NotNil(t, record.Subject)
	assert.Equal(t, "sculpture", *record.Subject)

	// Confident label but the heuristics already classified: heuristic wins.
	record = metadata.Merge("f", 1, metadata.Sources{Heuristics: heurSpecific, Vision: confident})
	assert.Equal(t, "event", record.ContentType)

	// Weak label never overrides.
	record = metadata.Merge("f", 1, metadata.Sources{Heuristics: heurDefault, Vision: unsure})
	assert.Equal(t, "other", record.ContentType)
}

func Test_Merge_VisionKeywordsDeduplicated(t *testing.T) {
	t.Parallel()

	record := metadata.Merge("f", 1, metadata.Sources{
		Heuristics: &heuristics.Classification{Keywords: []string{"sculpture", "studio1"}},
		Vision: &vision.Analysis{Labels: []vision.Label{
			{Description: "Sculptures", Confidence: 0.9},
			{Description: "Marble", Confidence: 0.8},
			{Description: "Blur", Confidence: 0.2},
		}},
	})

	assert.Contains(t, record.Keywords, "marble")
	assert.NotContains(t, record.Keywords, "sculptures", "near-duplicate of an existing keyword")
	assert.NotContains(t, record.Keywords, "blur", "below confidence floor")
}

func Test_Merge_GeocodeIsPureAddition(t *testing.T) {
	t.Parallel()

	record := metadata.Merge("f", 1, metadata.Sources{
		Heuristics: &heuristics.Classification{ContentType: "artwork", FacilityLocation: "studio_1"},
		Geocode: &geocode.Place{
			FormattedAddress: "12 Example St, Wellington",
			City:             "Wellington",
			Country:          "New Zealand",
		},
	})

	assert.Equal(t, "studio_1", record.FacilityLocation, "geocode never touches existing fields")
	require.NotNil(t, record.LocationCity)
	assert.Equal(t, "Wellington", *record.LocationCity)
	assert.Equal(t, "New Zealand", *record.LocationCountry)
}

func Test_Merge_StageNeverRegresses(t *testing.T) {
	t.Parallel()

	// A later run that produced nothing beyond heuristics must not
	// demote a record previously promoted to ai_analyzed.
	record := metadata.Merge("f", 1, metadata.Sources{
		Heuristics: &heuristics.Classification{ContentType: "other"},
		PriorStage: metadata.StageAIAnalyzed,
	})

	assert.Equal(t, metadata.StageAIAnalyzed, record.ProcessingStage)
}

func Test_Merge_DeterministicAcrossSourceOrder(t *testing.T) {
	t.Parallel()

	sources := metadata.Sources{
		Base:       metadata.BaseAttributes{FileName: "a.jpg", FolderPath: "Artwork", FileSize: 10, UploadedAt: time.Unix(1700000000, 0)},
		Heuristics: &heuristics.Classification{ContentType: "artwork", Keywords: []string{"artwork"}},
		Technical:  &exif.TechnicalMetadataRecord{Width: intPtr(100), Height: intPtr(50), Latitude: floatPtr(40.75), Longitude: floatPtr(-73.98)},
		Vision:     &vision.Analysis{Labels: []vision.Label{{Description: "Statue", Confidence: 0.9}}, AggregateConfidence: 0.9},
		Geocode:    &geocode.Place{City: "New York"},
	}

	first := metadata.Merge("f", 1, sources)
	second := metadata.Merge("f", 1, sources)
	assert.Equal(t, first, second)
}

func Test_MaxStage(t *testing.T) {
	t.Parallel()
	assert.Equal(t, metadata.StageAIAnalyzed, metadata.MaxStage(metadata.StageAIAnalyzed, metadata.StageBasic))
	assert.Equal(t, metadata.StageAIAnalyzed, metadata.MaxStage(metadata.StageBasic, metadata.StageAIAnalyzed))
	assert.Equal(t, metadata.StageUnprocessed, metadata.MaxStage(metadata.StageUnprocessed, "garbage"))
}
