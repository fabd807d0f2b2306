package image

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	_ "image/jpeg" // register decoder for thumbnailing provider output
)

const thumbnailWidth = 256

// ObjectWriter is the slice of the object store the generator needs to
// persist produced assets.
type ObjectWriter interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
}

// GeminiOptions configures the Gemini-backed generator.
type GeminiOptions struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Store      ObjectWriter
	Logger     zerolog.Logger
}

// GeminiGenerator calls the Gemini generateContent API and persists each
// produced image plus a thumbnail to the object store. Without an API key it
// renders deterministic synthetic assets so local and CI environments can
// exercise the full pipeline.
type GeminiGenerator struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	store      ObjectWriter
	logger     zerolog.Logger
}

func NewGeminiGenerator(opts GeminiOptions) (*GeminiGenerator, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("image: object store is required")
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	model := opts.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &GeminiGenerator{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		httpClient: client,
		store:      opts.Store,
		logger:     opts.Logger,
	}, nil
}

// Model returns the configured model identifier, used for pricing lookups.
func (g *GeminiGenerator) Model() string {
	return g.model
}

func (g *GeminiGenerator) Generate(ctx context.Context, req GenerateRequest) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	var data []byte
	var err error
	if g.apiKey == "" {
		data = g.syntheticImage(req)
	} else {
		data, err = g.remoteGenerate(ctx, req)
		if err != nil {
			return Result{}, err
		}
	}

	imageKey := fmt.Sprintf("generated/%s/%s-v%02d.png", req.BatchID, req.SceneID, req.VariantIndex+1)
	thumbKey := fmt.Sprintf("generated/%s/thumbs/%s-v%02d.png", req.BatchID, req.SceneID, req.VariantIndex+1)

	imageLoc, err := g.store.Write(ctx, imageKey, data)
	if err != nil {
		return Result{}, fmt.Errorf("image: persist %s: %w", imageKey, err)
	}
	thumbLoc, err := g.store.Write(ctx, thumbKey, thumbnail(data))
	if err != nil {
		return Result{}, fmt.Errorf("image: persist %s: %w", thumbKey, err)
	}

	g.logger.Debug().
		Str("batch_id", req.BatchID).
		Str("scene_id", req.SceneID).
		Int("variant", req.VariantIndex).
		Str("image_key", imageLoc).
		Msg("image: generated variant")

	return Result{ImageLocation: imageLoc, ThumbnailLocation: thumbLoc}, nil
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts,omitempty"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
	FileData   *geminiFileData   `json:"fileData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type geminiFileData struct {
	MimeType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri,omitempty"`
}

type geminiGenerateRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig *geminiGenCfg   `json:"generationConfig,omitempty"`
}

type geminiGenCfg struct {
	CandidateCount int `json:"candidateCount,omitempty"`
}

type geminiGenerateResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
}

func (g *GeminiGenerator) remoteGenerate(ctx context.Context, req GenerateRequest) ([]byte, error) {
	parts := []geminiPart{{Text: buildPrompt(req)}}
	for _, ref := range req.ReferenceURLs {
		parts = append(parts, geminiPart{FileData: &geminiFileData{FileURI: ref}})
	}
	payload := geminiGenerateRequest{
		Contents:         []geminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: &geminiGenCfg{CandidateCount: 1},
	}

	var response geminiGenerateResponse
	path := fmt.Sprintf("/models/%s:generateContent", url.PathEscape(g.model))
	if err := g.invoke(ctx, path, payload, &response); err != nil {
		return nil, err
	}

	for _, candidate := range response.Candidates {
		for _, part := range candidate.Content.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return nil, &APIError{Status: http.StatusBadGateway, Message: fmt.Sprintf("decode inline data: %v", err)}
			}
			return data, nil
		}
	}
	return nil, &APIError{Status: http.StatusBadGateway, Message: "no image content returned"}
}

func (g *GeminiGenerator) invoke(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("image: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("image: create request: %w", err)
	}
	q := httpReq.URL.Query()
	q.Set("key", g.apiKey)
	httpReq.URL.RawQuery = q.Encode()
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("image: invoke gemini: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr geminiErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error.Message != "" {
			return &APIError{Status: resp.StatusCode, Message: apiErr.Error.Message}
		}
		data, _ := io.ReadAll(resp.Body)
		return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("image: decode gemini response: %w", err)
	}
	return nil
}

func buildPrompt(req GenerateRequest) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(req.Prompt))
	if aspect := strings.TrimSpace(req.AspectRatio); aspect != "" {
		b.WriteString("\nAspect ratio: ")
		b.WriteString(aspect)
	}
	if req.VariantIndex > 0 {
		fmt.Fprintf(&b, "\nVariant %d: explore a different composition of the same scene.", req.VariantIndex+1)
	}
	return b.String()
}

// syntheticImage renders a deterministic placeholder so the orchestration
// pipeline stays fully exercised without upstream credentials.
func (g *GeminiGenerator) syntheticImage(req GenerateRequest) []byte {
	seed := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d", req.BatchID, req.SceneID, req.Prompt, req.VariantIndex)))
	hexSeed := hex.EncodeToString(seed[:])

	const width, height = 1024, 1024
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	base := colorFromSeed(hexSeed, 0)
	accent := colorFromSeed(hexSeed, 1)
	draw.Draw(img, img.Bounds(), &image.Uniform{base}, image.Point{}, draw.Src)
	for y := 0; y < height; y += 128 {
		stripe := image.Rect(0, y, width, y+64)
		draw.Draw(img, stripe, &image.Uniform{accent}, image.Point{}, draw.Over)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}

func colorFromSeed(seed string, shift int) color.RGBA {
	offset := shift * 6
	return color.RGBA{
		R: hexByte(seed[offset : offset+2]),
		G: hexByte(seed[offset+2 : offset+4]),
		B: hexByte(seed[offset+4 : offset+6]),
		A: 255,
	}
}

func hexByte(s string) uint8 {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) == 0 {
		return 0
	}
	return b[0]
}

// thumbnail downscales the image to thumbnailWidth with nearest-neighbor
// sampling. On undecodable input it falls back to the original bytes; a
// thumbnail is a convenience, not a contract.
func thumbnail(data []byte) []byte {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return data
	}
	bounds := src.Bounds()
	if bounds.Dx() <= thumbnailWidth {
		return data
	}
	scale := float64(bounds.Dx()) / float64(thumbnailWidth)
	h := int(float64(bounds.Dy()) / scale)
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, thumbnailWidth, h))
	for y := 0; y < h; y++ {
		for x := 0; x < thumbnailWidth; x++ {
			sx := bounds.Min.X + int(float64(x)*scale)
			sy := bounds.Min.Y + int(float64(y)*scale)
			dst.Set(x, y, src.At(sx, sy))
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return data
	}
	return buf.Bytes()
}

var _ Generator = (*GeminiGenerator)(nil)
