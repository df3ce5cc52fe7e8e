package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/voicetutor/internal/types"
)

func TestParseFeedback_AllFields(t *testing.T) {
	body := `{
		"corrected_sentence": "I went to the store.",
		"mistake_explanation": "Use the past tense.",
		"confidence": "confident",
		"sentiment": "positive",
		"feedback": "Nice work!",
		"audio_base64": "AAAA",
		"fluency_score": 88,
		"user_transcript": "I go to the store."
	}`

	got, err := ParseFeedback([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, types.FeedbackRecord{
		CorrectedSentence:  "I went to the store.",
		MistakeExplanation: "Use the past tense.",
		Confidence:         types.ConfidenceConfident,
		Sentiment:          types.SentimentPositive,
		Feedback:           "Nice work!",
		AudioBase64:        "AAAA",
		FluencyScore:       88,
		UserTranscript:     "I go to the store.",
	}, got)
}

func TestParseFeedback_Defaults(t *testing.T) {
	got, err := ParseFeedback([]byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, types.FeedbackRecord{
		Confidence:     DefaultConfidence,
		Sentiment:      DefaultSentiment,
		FluencyScore:   DefaultFluencyScore,
		UserTranscript: DefaultTranscript,
	}, got)
}

func TestParseFeedback_WrongTypesUseDefaults(t *testing.T) {
	body := `{"corrected_sentence": 12, "confidence": "ecstatic", "sentiment": true,
		"user_transcript": null, "fluency_score": "90"}`

	got, err := ParseFeedback([]byte(body))
	require.NoError(t, err)
	assert.Empty(t, got.CorrectedSentence)
	assert.Equal(t, DefaultConfidence, got.Confidence)
	assert.Equal(t, DefaultSentiment, got.Sentiment)
	assert.Equal(t, DefaultTranscript, got.UserTranscript)
	assert.Equal(t, DefaultFluencyScore, got.FluencyScore)
}

func TestParseFeedback_FluencyResolution(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"capitalized only", `{"Fluency": 81}`, 81},
		{"scored name only", `{"fluency_score": 64}`, 64},
		{"short name only", `{"fluency": 50}`, 50},
		{"capitalized wins", `{"Fluency": 81, "fluency_score": 20, "fluency": 10}`, 81},
		{"scored beats short", `{"fluency_score": 20, "fluency": 10}`, 20},
		{"non-numeric skipped", `{"Fluency": "high", "fluency": 33}`, 33},
		{"none present", `{"feedback": "ok"}`, DefaultFluencyScore},
		{"rounded", `{"fluency": 72.6}`, 73},
		{"clamped high", `{"fluency": 140}`, 100},
		{"clamped low", `{"fluency": -3}`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFeedback([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.FluencyScore)
		})
	}
}

func TestParseFeedback_Shapes(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"object", `{"corrected_sentence": "x"}`},
		{"array", `[{"corrected_sentence": "x"}, {"corrected_sentence": "y"}]`},
		{"wrapped object", `{"output": {"corrected_sentence": "x"}}`},
		{"wrapped array", `{"data": [{"corrected_sentence": "x"}]}`},
		{"array of wrapped", `[{"json": {"corrected_sentence": "x"}}]`},
		{"unknown single wrapper", `{"response": {"corrected_sentence": "x"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFeedback([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, "x", got.CorrectedSentence)
		})
	}
}

func TestParseFeedback_OnlyOneLevelUnwrapped(t *testing.T) {
	got, err := ParseFeedback([]byte(`{"output": {"data": {"corrected_sentence": "x"}}}`))
	require.NoError(t, err)
	assert.Empty(t, got.CorrectedSentence)
}

func TestParseFeedback_Malformed(t *testing.T) {
	for _, body := range []string{`not json`, `[]`, `"text"`, `[1, 2]`, `42`} {
		t.Run(body, func(t *testing.T) {
			_, err := ParseFeedback([]byte(body))
			assert.ErrorIs(t, err, ErrMalformedFeedback)
		})
	}
}
