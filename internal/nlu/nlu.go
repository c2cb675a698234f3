// Package nlu asks a chat model to turn free-form commands into structured
// intents and calendar events.
package nlu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"

	"aide/internal/schedule"
)

type Result struct {
	Intent   string            `json:"intent"`
	Entities map[string]string `json:"entities"`
	Query    string            `json:"query"`
}

const intentPrompt = `
You are the intent classifier of a home voice assistant.
Your ONLY job is to convert the user's utterance into a minimal structured JSON.

GENERAL RULES:
1. Do NOT converse.
2. Do NOT answer the question.
3. Do NOT add explanations.
4. Output ONLY JSON. No markdown.
5. Never hallucinate unknown devices or parameters.

OUTPUT FORMAT:
{
  "intent": "<string>",
  "entities": { ... },
  "query": "<original user text>"
}

INTENTS (canonical, snake_case):
- "turn_on"
- "turn_off"
- "unknown"  (if not classifiable)

ENTITIES:
{
  "device": "<canonical ID or null>"
}

DEVICE REGISTRY (canonical identifiers):
- "lamp" = night lamp, desk lamp, light, backlight

RULES FOR DEVICES:
- Map ANY synonyms to the canonical id.
- If multiple devices mentioned, choose the one acted upon.
- If no device is relevant, output null for device.

If the meaning is unclear, intent = "unknown".
`

const eventPrompt = `
You turn a spoken request into one calendar entry.
Today is %s (%s). The current time is %s.

Output ONLY JSON, no markdown:
{
  "task": "<short description, without words like schedule or remind>",
  "date": "YYYY-MM-DD",
  "start": "HH:MM",
  "stop": "HH:MM or empty",
  "reminder_minutes": <int, 0 if not mentioned>
}

Resolve relative dates ("tomorrow", "next friday") against today.
Use 24-hour time. If no time can be inferred, output {"task": ""}.
`

var ErrNoEvent = errors.New("no event in request")

type Client struct {
	api    openai.Client
	model  string
	now    func() time.Time
	logger *log.Logger
}

func New(api openai.Client, model string, logger *log.Logger) *Client {
	if model == "" {
		model = string(openai.ChatModelGPT5Nano)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Client{api: api, model: model, now: time.Now, logger: logger}
}

func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Model: openai.ChatModel(c.model),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	content := resp.Choices[0].Message.Content
	if content == "" {
		return "", fmt.Errorf("empty message content")
	}

	c.logger.Debug("Processed", "data", content)
	return content, nil
}

// Analyze classifies a device command.
func (c *Client) Analyze(ctx context.Context, transcript string) (Result, error) {
	content, err := c.complete(ctx, intentPrompt, transcript)
	if err != nil {
		return Result{}, err
	}

	var out Result
	if err := decodeJSON(content, &out); err != nil {
		return Result{}, err
	}
	if out.Query == "" {
		out.Query = transcript
	}
	return out, nil
}

type draft struct {
	Task            string `json:"task"`
	Date            string `json:"date"`
	Start           string `json:"start"`
	Stop            string `json:"stop"`
	ReminderMinutes int    `json:"reminder_minutes"`
}

// DraftEvent extracts an appointment from a spoken request.
func (c *Client) DraftEvent(ctx context.Context, transcript string) (schedule.Event, error) {
	now := c.now()
	system := fmt.Sprintf(eventPrompt, now.Format("2006-01-02"), now.Weekday(), now.Format("15:04"))

	content, err := c.complete(ctx, system, transcript)
	if err != nil {
		return schedule.Event{}, err
	}

	var d draft
	if err := decodeJSON(content, &d); err != nil {
		return schedule.Event{}, err
	}
	if strings.TrimSpace(d.Task) == "" || d.Date == "" || d.Start == "" {
		return schedule.Event{}, ErrNoEvent
	}

	lead := d.ReminderMinutes
	if lead <= 0 {
		lead = schedule.DefaultReminderMinutes
	}
	return schedule.Event{
		Date:            d.Date,
		Start:           d.Start,
		Stop:            d.Stop,
		Task:            d.Task,
		ReminderMinutes: lead,
	}, nil
}

// decodeJSON tolerates a fenced code block around the payload.
func decodeJSON(content string, v any) error {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("unmarshal NLU result: %w (raw: %s)", err, content)
	}
	return nil
}
