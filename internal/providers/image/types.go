// Package image defines the generation contract consumed by the batch
// orchestrator and the Gemini-backed implementation of it.
package image

import "context"

// GenerateRequest describes a single variant generation call.
type GenerateRequest struct {
	BatchID       string
	SceneID       string
	Prompt        string
	ReferenceURLs []string
	VariantIndex  int
	AspectRatio   string
}

// Result locates the stored image and its thumbnail.
type Result struct {
	ImageLocation     string
	ThumbnailLocation string
}

// Generator is the contract implemented by all image providers. A call either
// returns both locations or an error; errors are classified by IsRetryable.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (Result, error)
}
