package usecase

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/kintsugi-app/server/domain/entities"
	"github.com/kintsugi-app/server/domain/repositories"
)

// ConflictAnalysis is the session-level aggregation of turn-level emotion
// scoring
type ConflictAnalysis struct {
	SessionID        string             `json:"session_id"`
	ConflictLevel    float64            `json:"conflict_level"`
	DominantEmotions []string           `json:"dominant_emotions"`
	SentimentBalance map[string]int     `json:"sentiment_balance"`
	Indicators       map[string]float64 `json:"indicators,omitempty"`
	Recommendations  []string           `json:"recommendations,omitempty"`
	TurnsAnalyzed    int                `json:"turns_analyzed"`
}

// ConflictAnalyzer scores whole conversations by running each user turn
// through the emotion analyzer and aggregating the results
type ConflictAnalyzer struct {
	analyzer repositories.EmotionAnalyzer
	logger   *zap.Logger
}

// NewConflictAnalyzer creates a conflict analyzer
func NewConflictAnalyzer(analyzer repositories.EmotionAnalyzer, logger *zap.Logger) *ConflictAnalyzer {
	return &ConflictAnalyzer{analyzer: analyzer, logger: logger}
}

// Analyze aggregates per-turn emotion records into a session-level conflict
// analysis. Turns whose individual analysis is unavailable are skipped; the
// analysis fails only when every turn was skipped.
func (c *ConflictAnalyzer) Analyze(ctx context.Context, sessionID string, turns []entities.ConversationTurn) (*ConflictAnalysis, error) {
	analysis := &ConflictAnalysis{
		SessionID:        sessionID,
		SentimentBalance: make(map[string]int),
		Indicators:       make(map[string]float64),
	}

	emotionWeight := make(map[string]float64)
	seenRecommendations := make(map[string]struct{})

	for _, turn := range turns {
		if turn.Role != entities.TurnRoleUser || turn.Content == "" {
			continue
		}

		record, err := c.analyzer.Analyze(ctx, repositories.AnalysisInput{
			SessionID: sessionID,
			Modality:  repositories.ModalityText,
			Text:      turn.Content,
		})
		if err != nil {
			c.logger.Warn("Turn skipped in conflict analysis",
				zap.String("sessionID", sessionID),
				zap.String("turnID", turn.ID),
				zap.Error(err))
			continue
		}

		analysis.TurnsAnalyzed++
		analysis.SentimentBalance[string(record.OverallSentiment)]++
		emotionWeight[record.PrimaryEmotion.Label] += record.PrimaryEmotion.Intensity

		for name, score := range record.ConflictIndicators {
			if score > analysis.Indicators[name] {
				analysis.Indicators[name] = score
			}
		}
		for _, rec := range record.Recommendations {
			if _, dup := seenRecommendations[rec]; dup {
				continue
			}
			seenRecommendations[rec] = struct{}{}
			analysis.Recommendations = append(analysis.Recommendations, rec)
		}
	}

	if analysis.TurnsAnalyzed == 0 {
		return nil, &entities.AnalysisUnavailableError{
			Err: fmt.Errorf("no turns could be analyzed for session %s", sessionID),
		}
	}

	for _, score := range analysis.Indicators {
		if score > analysis.ConflictLevel {
			analysis.ConflictLevel = score
		}
	}

	// Dominant emotions ordered by accumulated weight
	type weighted struct {
		label  string
		weight float64
	}
	ranked := make([]weighted, 0, len(emotionWeight))
	for label, weight := range emotionWeight {
		ranked = append(ranked, weighted{label, weight})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].weight > ranked[j].weight })
	for i, entry := range ranked {
		if i == 3 {
			break
		}
		analysis.DominantEmotions = append(analysis.DominantEmotions, entry.label)
	}

	return analysis, nil
}
