package report

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"example.com/ridereport/internal/domain"
)

// historyWindow bounds how many prior reports feed the progress prompt so it
// stays inside the model's context budget.
const historyWindow = 20

// GeminiGenerator implements Generator on top of Google Gemini.
type GeminiGenerator struct {
	apiKey string
	model  string
}

// NewGeminiGenerator constructs a GeminiGenerator.
func NewGeminiGenerator(apiKey, model string) *GeminiGenerator {
	return &GeminiGenerator{apiKey: apiKey, model: model}
}

// GenerateRideReport narrates a single ride.
func (g *GeminiGenerator) GenerateRideReport(ctx context.Context, activity domain.ActivityRecord, streams domain.StreamBundle) (*Generated, error) {
	prompt := buildRidePrompt(activity, streams)
	content, err := g.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return &Generated{
		Content:       content,
		Model:         g.model,
		PromptVersion: RidePromptVersion,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// GenerateProgressSummary summarises the athlete's recent trajectory.
func (g *GeminiGenerator) GenerateProgressSummary(ctx context.Context, history []domain.Report) (*Generated, error) {
	prompt := buildProgressPrompt(history)
	content, err := g.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return &Generated{
		Content:       content,
		Model:         g.model,
		PromptVersion: ProgressPromptVersion,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

func (g *GeminiGenerator) generate(ctx context.Context, prompt string) (string, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(g.apiKey))
	if err != nil {
		return "", fmt.Errorf("failed to create Gemini client: %w", err)
	}
	defer client.Close()

	model := client.GenerativeModel(g.model)
	model.SetTemperature(0.7)
	model.SetTopP(0.9)
	model.SetMaxOutputTokens(2048)

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrContentRejected
	}

	var out strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			out.WriteString(string(text))
		}
	}
	if out.Len() == 0 {
		return "", ErrContentRejected
	}
	return out.String(), nil
}

func buildRidePrompt(activity domain.ActivityRecord, streams domain.StreamBundle) string {
	var doc struct {
		Name             string  `json:"name"`
		Distance         float64 `json:"distance"`
		MovingTime       int     `json:"moving_time"`
		TotalElevation   float64 `json:"total_elevation_gain"`
		AverageWatts     float64 `json:"average_watts"`
		AverageHeartrate float64 `json:"average_heartrate"`
		AverageSpeed     float64 `json:"average_speed"`
		StartDate        string  `json:"start_date"`
	}
	_ = json.Unmarshal(activity.Raw, &doc)

	channels := make([]string, 0, len(streams.Channels))
	for name := range streams.Channels {
		channels = append(channels, name)
	}
	sort.Strings(channels)

	var b strings.Builder
	b.WriteString("You are a cycling coach writing a post-ride analysis in markdown.\n")
	b.WriteString("Summarise effort, pacing, and one concrete suggestion. Be specific, not generic.\n\n")
	fmt.Fprintf(&b, "Ride: %s (%s)\n", doc.Name, doc.StartDate)
	fmt.Fprintf(&b, "Distance: %.1f km, moving time: %d min, elevation gain: %.0f m\n",
		doc.Distance/1000, doc.MovingTime/60, doc.TotalElevation)
	if doc.AverageWatts > 0 {
		fmt.Fprintf(&b, "Average power: %.0f W\n", doc.AverageWatts)
	}
	if doc.AverageHeartrate > 0 {
		fmt.Fprintf(&b, "Average heart rate: %.0f bpm\n", doc.AverageHeartrate)
	}
	fmt.Fprintf(&b, "Recorded channels: %s\n", strings.Join(channels, ", "))
	return b.String()
}

func buildProgressPrompt(history []domain.Report) string {
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}

	var b strings.Builder
	b.WriteString("You are a cycling coach. Summarise the athlete's progress across the rides below,\n")
	b.WriteString("oldest first, in markdown. Call out trends in fitness and consistency.\n\n")
	for i, r := range history {
		fmt.Fprintf(&b, "--- Ride %d (%s) ---\n%s\n\n", i+1, r.CreatedAt.Format("2006-01-02"), r.Content)
	}
	return b.String()
}
