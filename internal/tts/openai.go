package tts

import (
	"context"
	"fmt"
	"io"
	"net/http"

	openai "github.com/openai/openai-go/v3"

	"aide/pkg/audioconv"
)

const (
	DefaultOpenAIModel = "gpt-4o-mini-tts"
	DefaultOpenAIVoice = "alloy"

	openAIRate   = 24000
	openAIFormat = "opus" // ogg/opus container
)

// Player plays mono PCM and blocks until it has been played.
type Player interface {
	Play(ctx context.Context, pcm []float32, sampleRate int) error
}

// OpenAI synthesizes speech remotely and plays it locally.
type OpenAI struct {
	client openai.Client
	player Player
	model  string
	voice  string
}

func NewOpenAI(client openai.Client, player Player, model, voice string) *OpenAI {
	if model == "" {
		model = DefaultOpenAIModel
	}
	if voice == "" {
		voice = DefaultOpenAIVoice
	}
	return &OpenAI{client: client, player: player, model: model, voice: voice}
}

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

func (o *OpenAI) synthesize(ctx context.Context, text string) ([]byte, error) {
	var resp *http.Response
	err := o.client.Post(ctx, "audio/speech", speechRequest{
		Model:          o.model,
		Input:          text,
		Voice:          o.voice,
		ResponseFormat: openAIFormat,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("speech request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read speech response: %w", err)
	}
	return data, nil
}

func (o *OpenAI) Speak(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}

	data, err := o.synthesize(ctx, text)
	if err != nil {
		return err
	}

	pcm, err := audioconv.DecodeBytes(data, openAIFormat, audioconv.Options{SampleRate: openAIRate})
	if err != nil {
		return fmt.Errorf("decode speech: %w", err)
	}

	return o.player.Play(ctx, pcm, openAIRate)
}
