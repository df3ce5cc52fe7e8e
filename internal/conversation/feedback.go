package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/oszuidwest/voicetutor/internal/types"
)

// ErrMalformedFeedback is returned when a response body holds no feedback object.
var ErrMalformedFeedback = errors.New("malformed feedback response")

// Defaults substituted for absent or mistyped response fields.
const (
	DefaultFluencyScore = 75
	DefaultTranscript   = "(no transcript available)"
	DefaultConfidence   = types.ConfidenceUnsure
	DefaultSentiment    = types.SentimentNeutral
)

// FluencyFields lists the accepted names of the fluency score, in priority
// order. The first one holding a number wins.
var FluencyFields = []string{"Fluency", "fluency_score", "fluency"}

// WrapperKeys lists envelope keys a feedback object may be nested under.
var WrapperKeys = []string{"output", "data", "result", "body", "json"}

// feedbackFields are the keys that identify an unwrapped feedback object.
var feedbackFields = []string{
	"corrected_sentence", "mistake_explanation", "confidence", "sentiment",
	"feedback", "audio_base64", "user_transcript",
}

// ParseFeedback normalizes an analysis response into a FeedbackRecord.
// The body may be an object, an array whose first element is the object, and
// either may be nested one level under a wrapper key. Every field is optional.
func ParseFeedback(body []byte) (types.FeedbackRecord, error) {
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return types.FeedbackRecord{}, fmt.Errorf("%w: %w", ErrMalformedFeedback, err)
	}

	obj, ok := firstObject(raw)
	if !ok {
		return types.FeedbackRecord{}, fmt.Errorf("%w: expected an object", ErrMalformedFeedback)
	}
	obj = unwrap(obj)

	return types.FeedbackRecord{
		CorrectedSentence:  stringField(obj, "corrected_sentence", ""),
		MistakeExplanation: stringField(obj, "mistake_explanation", ""),
		Confidence:         types.Confidence(labelField(obj, "confidence", string(DefaultConfidence), confidenceLabels)),
		Sentiment:          types.Sentiment(labelField(obj, "sentiment", string(DefaultSentiment), sentimentLabels)),
		Feedback:           stringField(obj, "feedback", ""),
		AudioBase64:        stringField(obj, "audio_base64", ""),
		FluencyScore:       fluencyScore(obj),
		UserTranscript:     stringField(obj, "user_transcript", DefaultTranscript),
	}, nil
}

var (
	confidenceLabels = []string{
		string(types.ConfidenceConfident), string(types.ConfidenceUnsure), string(types.ConfidenceConfused),
	}
	sentimentLabels = []string{
		string(types.SentimentPositive), string(types.SentimentNeutral), string(types.SentimentFrustrated),
	}
)

func firstObject(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case []any:
		if len(t) == 0 {
			return nil, false
		}
		obj, ok := t[0].(map[string]any)
		return obj, ok
	default:
		return nil, false
	}
}

// unwrap descends one level when obj is an envelope rather than feedback.
func unwrap(obj map[string]any) map[string]any {
	if looksLikeFeedback(obj) {
		return obj
	}
	for _, key := range WrapperKeys {
		if inner, ok := firstObject(obj[key]); ok {
			return inner
		}
	}
	if len(obj) == 1 {
		for _, v := range obj {
			if inner, ok := firstObject(v); ok {
				return inner
			}
		}
	}
	return obj
}

func looksLikeFeedback(obj map[string]any) bool {
	for _, k := range feedbackFields {
		if _, ok := obj[k]; ok {
			return true
		}
	}
	for _, k := range FluencyFields {
		if _, ok := obj[k]; ok {
			return true
		}
	}
	return false
}

func stringField(obj map[string]any, key, def string) string {
	if s, ok := obj[key].(string); ok {
		return s
	}
	return def
}

func labelField(obj map[string]any, key, def string, allowed []string) string {
	s, ok := obj[key].(string)
	if !ok {
		return def
	}
	s = strings.ToLower(strings.TrimSpace(s))
	for _, a := range allowed {
		if s == a {
			return s
		}
	}
	return def
}

func fluencyScore(obj map[string]any) int {
	for _, key := range FluencyFields {
		n, ok := obj[key].(float64)
		if !ok || math.IsNaN(n) || math.IsInf(n, 0) {
			continue
		}
		return int(math.Max(0, math.Min(100, math.Round(n))))
	}
	return DefaultFluencyScore
}
