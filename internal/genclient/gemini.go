package genclient

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"time"

	genai "google.golang.org/genai"
)

// GeminiClient generates images through the official genai client.
// It performs exactly one API call per Generate: retries are the
// orchestrator's decision (user-initiated), never the transport's.
type GeminiClient struct {
	cli          *genai.Client
	model        string
	costPerImage float64
	rl           *rpsLimiter
}

// NewGeminiClient builds a client for the given image model. An
// optional RPS limiter is read from GEN_RPS / GEN_BURST.
func NewGeminiClient(ctx context.Context, apiKey, model string, costPerImage float64) (*GeminiClient, error) {
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("init genai client: %w", err)
	}
	var rps float64
	var burst int
	if v := os.Getenv("GEN_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			rps = f
		}
	}
	if v := os.Getenv("GEN_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			burst = n
		}
	}
	return &GeminiClient{
		cli:          cli,
		model:        model,
		costPerImage: costPerImage,
		rl:           newRPSLimiter(rps, burst),
	}, nil
}

func (g *GeminiClient) Name() string { return "Gemini:" + g.model }

func (g *GeminiClient) Close() error {
	if g.rl != nil {
		g.rl.Stop()
	}
	return nil
}

// Generate runs one image generation call and normalizes every failure
// mode into *GenerationError.
func (g *GeminiClient) Generate(ctx context.Context, prompt string) (*Result, error) {
	if err := g.rl.Acquire(ctx); err != nil {
		return nil, &GenerationError{Message: "rate limit wait interrupted", Cause: err}
	}

	seed := rand.Int31()
	start := time.Now()
	resp, err := g.cli.Models.GenerateImages(ctx, g.model, prompt, &genai.GenerateImagesConfig{
		NumberOfImages: 1,
		Seed:           genai.Ptr(seed),
	})
	elapsed := time.Since(start)
	if err != nil {
		return nil, &GenerationError{Message: "model call failed", Cause: err}
	}
	if len(resp.GeneratedImages) == 0 || resp.GeneratedImages[0].Image == nil {
		return nil, &GenerationError{Message: "model returned no image"}
	}
	img := resp.GeneratedImages[0].Image
	if len(img.ImageBytes) == 0 {
		return nil, &GenerationError{Message: "model returned empty image payload"}
	}

	return &Result{
		Data:       img.ImageBytes,
		MIMEType:   img.MIMEType,
		Model:      g.model,
		Seed:       int64(seed),
		Cost:       g.costPerImage,
		DurationMs: elapsed.Milliseconds(),
	}, nil
}
