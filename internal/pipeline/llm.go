package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/phrazzld/maintenance-orchestrator/internal/generation"
)

// DefaultMaxOutput is the response budget used when an LLM stage is created
// with a non-positive maxOutput.
const DefaultMaxOutput = 1024

var screenPrompt = template.Must(template.New("screen").Parse(`Classify this maintenance photo.
Reply with JSON only: {"category": string, "confidence": number between 0 and 1}.
Categories: nameplate, damage, gauge, document, other.
{{if .Caption}}Caption: {{.Caption}}
{{end}}Media type: {{.MIMEType}}
Image (base64): {{.Encoded}}
`))

var extractPrompt = template.Must(template.New("extract").Parse(`Read the equipment details in this photo.
Reply with JSON only: {"manufacturer": string, "model": string, "serial_number": string, "text": string, "observations": [string]}.
Leave fields empty when they are not visible.
{{if .Caption}}Caption: {{.Caption}}
{{end}}Media type: {{.MIMEType}}
Image (base64): {{.Encoded}}
`))

var synthesizePrompt = template.Must(template.New("synthesize").Parse(`You are assisting a maintenance technician.
Equipment: {{.Entity.Name}}{{if .Entity.Kind}} ({{.Entity.Kind}}){{end}}
{{- with .Extraction}}
Read from photo:{{if .Manufacturer}} manufacturer {{.Manufacturer}};{{end}}{{if .Model}} model {{.Model}};{{end}}{{if .SerialNumber}} serial {{.SerialNumber}};{{end}}
{{- range .Observations}}
- {{.}}
{{- end}}
{{- end}}
{{if .Input.Caption}}Technician says: {{.Input.Caption}}
{{end}}Known facts:
{{- range .Atoms}}
- {{.Content}}
{{- end}}
Reply with JSON only: {"summary": string, "recommendations": [string]}.
`))

type photoPrompt struct {
	Caption  string
	MIMEType string
	Encoded  string
}

func newPhotoPrompt(in Input) photoPrompt {
	return photoPrompt{
		Caption:  in.Caption,
		MIMEType: in.MIMEType,
		Encoded:  base64.StdEncoding.EncodeToString(in.Data),
	}
}

// LLMScreener classifies inputs with a language model.
type LLMScreener struct {
	gen       generation.Generator
	maxOutput int
}

var _ Screener = (*LLMScreener)(nil)

// NewLLMScreener creates an LLMScreener.
func NewLLMScreener(gen generation.Generator, maxOutput int) (*LLMScreener, error) {
	if gen == nil {
		return nil, errors.New("generator cannot be nil")
	}
	return &LLMScreener{gen: gen, maxOutput: orDefault(maxOutput)}, nil
}

// Screen implements Screener.
func (s *LLMScreener) Screen(ctx context.Context, in Input) (Screening, error) {
	var reply struct {
		Category   string   `json:"category"`
		Confidence *float64 `json:"confidence"`
	}
	cost, err := complete(ctx, s.gen, screenPrompt, newPhotoPrompt(in), s.maxOutput, &reply)
	if err != nil {
		return Screening{}, err
	}
	if reply.Confidence == nil || *reply.Confidence < 0 || *reply.Confidence > 1 {
		return Screening{}, fmt.Errorf("%w: screening confidence missing or out of range", generation.ErrInvalidResponse)
	}
	return Screening{
		Category:   strings.TrimSpace(reply.Category),
		Confidence: *reply.Confidence,
		Cost:       cost,
	}, nil
}

// LLMExtractor reads equipment details with a language model.
type LLMExtractor struct {
	gen       generation.Generator
	maxOutput int
}

var _ Extractor = (*LLMExtractor)(nil)

// NewLLMExtractor creates an LLMExtractor.
func NewLLMExtractor(gen generation.Generator, maxOutput int) (*LLMExtractor, error) {
	if gen == nil {
		return nil, errors.New("generator cannot be nil")
	}
	return &LLMExtractor{gen: gen, maxOutput: orDefault(maxOutput)}, nil
}

// Extract implements Extractor.
func (e *LLMExtractor) Extract(ctx context.Context, in Input) (Extraction, float64, error) {
	var reply Extraction
	cost, err := complete(ctx, e.gen, extractPrompt, newPhotoPrompt(in), e.maxOutput, &reply)
	if err != nil {
		return Extraction{}, cost, err
	}
	return reply, cost, nil
}

// LLMSynthesizer writes the final answer with a language model.
type LLMSynthesizer struct {
	gen       generation.Generator
	maxOutput int
}

var _ Synthesizer = (*LLMSynthesizer)(nil)

// NewLLMSynthesizer creates an LLMSynthesizer.
func NewLLMSynthesizer(gen generation.Generator, maxOutput int) (*LLMSynthesizer, error) {
	if gen == nil {
		return nil, errors.New("generator cannot be nil")
	}
	return &LLMSynthesizer{gen: gen, maxOutput: orDefault(maxOutput)}, nil
}

// Synthesize implements Synthesizer.
func (s *LLMSynthesizer) Synthesize(ctx context.Context, in SynthesisInput) (Synthesis, float64, error) {
	var reply Synthesis
	cost, err := complete(ctx, s.gen, synthesizePrompt, in, s.maxOutput, &reply)
	if err != nil {
		return Synthesis{}, cost, err
	}
	if strings.TrimSpace(reply.Summary) == "" {
		return Synthesis{}, cost, fmt.Errorf("%w: empty summary", generation.ErrInvalidResponse)
	}
	return reply, cost, nil
}

// complete renders tmpl, calls gen and decodes the JSON reply into dst.
// The returned cost is the call's cost even when decoding fails.
func complete(
	ctx context.Context,
	gen generation.Generator,
	tmpl *template.Template,
	data any,
	maxOutput int,
	dst any,
) (float64, error) {
	var prompt bytes.Buffer
	if err := tmpl.Execute(&prompt, data); err != nil {
		return 0, fmt.Errorf("render %s prompt: %w", tmpl.Name(), err)
	}

	res, err := gen.Generate(ctx, prompt.String(), maxOutput)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", tmpl.Name(), err)
	}

	if err := json.Unmarshal([]byte(stripFences(res.Text)), dst); err != nil {
		return res.Usage.CostUSD, fmt.Errorf("%w: %s reply is not valid JSON: %v",
			generation.ErrInvalidResponse, tmpl.Name(), err)
	}
	return res.Usage.CostUSD, nil
}

// stripFences removes a surrounding markdown code fence, if any.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[nl+1:]
	} else {
		text = strings.TrimPrefix(text, "json")
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

func orDefault(maxOutput int) int {
	if maxOutput <= 0 {
		return DefaultMaxOutput
	}
	return maxOutput
}
