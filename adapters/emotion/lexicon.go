package emotion

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kintsugi-app/server/domain/entities"
	"github.com/kintsugi-app/server/domain/repositories"
)

// lexiconEntry maps a keyword to the emotion it signals
type lexiconEntry struct {
	emotion   string
	intensity float64
	sentiment entities.Sentiment
	conflict  float64
}

// emotionLexicon is a small keyword table good enough for local development
// and degraded operation when the remote scorer is down
var emotionLexicon = map[string]lexiconEntry{
	"angry":       {"anger", 0.9, entities.SentimentNegative, 0.8},
	"furious":     {"anger", 0.95, entities.SentimentNegative, 0.9},
	"frustrated":  {"frustration", 0.7, entities.SentimentNegative, 0.6},
	"annoyed":     {"frustration", 0.5, entities.SentimentNegative, 0.4},
	"sad":         {"sadness", 0.7, entities.SentimentNegative, 0.3},
	"hurt":        {"sadness", 0.8, entities.SentimentNegative, 0.5},
	"lonely":      {"sadness", 0.6, entities.SentimentNegative, 0.2},
	"scared":      {"fear", 0.7, entities.SentimentNegative, 0.4},
	"worried":     {"fear", 0.5, entities.SentimentNegative, 0.3},
	"anxious":     {"fear", 0.6, entities.SentimentNegative, 0.3},
	"happy":       {"joy", 0.8, entities.SentimentPositive, 0.0},
	"glad":        {"joy", 0.6, entities.SentimentPositive, 0.0},
	"grateful":    {"gratitude", 0.8, entities.SentimentPositive, 0.0},
	"thankful":    {"gratitude", 0.7, entities.SentimentPositive, 0.0},
	"hopeful":     {"hope", 0.7, entities.SentimentPositive, 0.0},
	"understand":  {"empathy", 0.6, entities.SentimentPositive, 0.0},
	"sorry":       {"remorse", 0.7, entities.SentimentPositive, 0.1},
	"unfair":      {"resentment", 0.7, entities.SentimentNegative, 0.7},
	"never":       {"resentment", 0.4, entities.SentimentNegative, 0.5},
	"always":      {"resentment", 0.4, entities.SentimentNegative, 0.5},
	"blame":       {"resentment", 0.7, entities.SentimentNegative, 0.7},
	"hate":        {"anger", 0.9, entities.SentimentNegative, 0.9},
	"love":        {"affection", 0.8, entities.SentimentPositive, 0.0},
	"appreciate":  {"gratitude", 0.7, entities.SentimentPositive, 0.0},
	"listen":      {"empathy", 0.5, entities.SentimentPositive, 0.0},
	"ignored":     {"sadness", 0.6, entities.SentimentNegative, 0.5},
	"disrespect":  {"anger", 0.8, entities.SentimentNegative, 0.7},
	"shout":       {"anger", 0.7, entities.SentimentNegative, 0.7},
	"yell":        {"anger", 0.7, entities.SentimentNegative, 0.7},
	"compromise":  {"hope", 0.6, entities.SentimentPositive, 0.0},
	"agree":       {"hope", 0.6, entities.SentimentPositive, 0.0},
	"tired":       {"exhaustion", 0.5, entities.SentimentNegative, 0.2},
	"overwhelmed": {"exhaustion", 0.7, entities.SentimentNegative, 0.3},
}

// LexiconAnalyzer scores text against a fixed keyword lexicon. It serves as
// the mock provider in tests and the degraded provider when the remote
// scorer is unavailable. Audio and facial inputs get a neutral record since
// the lexicon only understands text.
type LexiconAnalyzer struct {
	logger *zap.Logger
}

var _ repositories.EmotionAnalyzer = (*LexiconAnalyzer)(nil)

// NewLexiconAnalyzer creates a new lexicon-based analyzer
func NewLexiconAnalyzer(logger *zap.Logger) *LexiconAnalyzer {
	return &LexiconAnalyzer{logger: logger}
}

// Analyze implements repositories.EmotionAnalyzer
func (a *LexiconAnalyzer) Analyze(ctx context.Context, input repositories.AnalysisInput) (*entities.EmotionRecord, error) {
	record := &entities.EmotionRecord{
		SessionID:        input.SessionID,
		PrimaryEmotion:   entities.EmotionScore{Label: "neutral", Intensity: 0.5},
		OverallSentiment: entities.SentimentNeutral,
		CreatedAt:        time.Now(),
	}

	if input.Modality != repositories.ModalityText || input.Text == "" {
		return record, nil
	}

	// Accumulate the strongest intensity seen per emotion label
	intensities := make(map[string]float64)
	sentiments := make(map[entities.Sentiment]int)
	var conflictScore float64

	for _, word := range strings.Fields(strings.ToLower(input.Text)) {
		word = strings.Trim(word, ".,!?;:'\"")
		entry, ok := emotionLexicon[word]
		if !ok {
			continue
		}
		if entry.intensity > intensities[entry.emotion] {
			intensities[entry.emotion] = entry.intensity
		}
		sentiments[entry.sentiment]++
		if entry.conflict > conflictScore {
			conflictScore = entry.conflict
		}
	}

	if len(intensities) == 0 {
		return record, nil
	}

	var primary entities.EmotionScore
	for label, intensity := range intensities {
		if intensity > primary.Intensity {
			primary = entities.EmotionScore{Label: label, Intensity: intensity}
		}
	}
	record.PrimaryEmotion = primary

	for label, intensity := range intensities {
		if label == primary.Label {
			continue
		}
		record.SecondaryEmotions = append(record.SecondaryEmotions, entities.EmotionScore{
			Label:     label,
			Intensity: intensity,
		})
	}
	record.SortSecondaryEmotions()

	switch {
	case sentiments[entities.SentimentNegative] > sentiments[entities.SentimentPositive]:
		record.OverallSentiment = entities.SentimentNegative
	case sentiments[entities.SentimentPositive] > sentiments[entities.SentimentNegative]:
		record.OverallSentiment = entities.SentimentPositive
	default:
		record.OverallSentiment = entities.SentimentNeutral
	}

	if conflictScore > 0 {
		record.ConflictIndicators = map[string]float64{"tension": conflictScore}
	}
	record.Recommendations = recommendationsFor(record)

	a.logger.Debug("Scored text against lexicon",
		zap.String("primaryEmotion", record.PrimaryEmotion.Label),
		zap.String("sentiment", string(record.OverallSentiment)))

	return record, nil
}

func recommendationsFor(record *entities.EmotionRecord) []string {
	switch record.PrimaryEmotion.Label {
	case "anger", "resentment":
		return []string{
			"Take a moment to breathe before responding.",
			"Try restating the other person's point in your own words.",
		}
	case "sadness", "fear", "exhaustion":
		return []string{
			"Acknowledge the feeling before moving to solutions.",
		}
	case "frustration":
		return []string{
			"Name the specific behavior, not the person.",
		}
	default:
		return nil
	}
}
