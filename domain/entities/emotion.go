package entities

import (
	"errors"
	"sort"
	"time"
)

// Sentiment is the coarse overall sentiment of an analyzed input
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// EmotionScore pairs an emotion label with its intensity in [0,1]
type EmotionScore struct {
	Label     string  `json:"label" bson:"label"`
	Intensity float64 `json:"intensity" bson:"intensity"`
}

// EmotionRecord is the result of one emotion-analysis call
type EmotionRecord struct {
	SessionID          string             `json:"session_id,omitempty" bson:"session_id,omitempty"`
	PrimaryEmotion     EmotionScore       `json:"primary_emotion" bson:"primary_emotion"`
	SecondaryEmotions  []EmotionScore     `json:"secondary_emotions,omitempty" bson:"secondary_emotions,omitempty"`
	OverallSentiment   Sentiment          `json:"overall_sentiment" bson:"overall_sentiment"`
	ConflictIndicators map[string]float64 `json:"conflict_indicators,omitempty" bson:"conflict_indicators,omitempty"`
	Recommendations    []string           `json:"recommendations,omitempty" bson:"recommendations,omitempty"`
	CreatedAt          time.Time          `json:"created_at" bson:"created_at"`
}

// SortSecondaryEmotions orders secondary emotions by descending intensity.
// Display ordering only; no invariant is enforced on write.
func (r *EmotionRecord) SortSecondaryEmotions() {
	sort.SliceStable(r.SecondaryEmotions, func(i, j int) bool {
		return r.SecondaryEmotions[i].Intensity > r.SecondaryEmotions[j].Intensity
	})
}

// ConflictLevel returns the highest conflict indicator score, 0 when none
// were reported.
func (r *EmotionRecord) ConflictLevel() float64 {
	var level float64
	for _, score := range r.ConflictIndicators {
		if score > level {
			level = score
		}
	}
	return level
}

// Validate checks that all intensities and indicator scores are in [0,1]
func (r *EmotionRecord) Validate() error {
	if r.PrimaryEmotion.Label == "" {
		return errors.New("primary emotion label is required")
	}
	if !validIntensity(r.PrimaryEmotion.Intensity) {
		return errors.New("primary emotion intensity must be between 0 and 1")
	}
	for _, score := range r.SecondaryEmotions {
		if !validIntensity(score.Intensity) {
			return errors.New("secondary emotion intensity must be between 0 and 1")
		}
	}
	for _, score := range r.ConflictIndicators {
		if !validIntensity(score) {
			return errors.New("conflict indicator score must be between 0 and 1")
		}
	}
	switch r.OverallSentiment {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
	default:
		return errors.New("invalid overall sentiment")
	}
	return nil
}

func validIntensity(v float64) bool {
	return v >= 0 && v <= 1
}
