package steps

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// StepType is the `$type` discriminator understood by the compute provider.
type StepType string

const (
	TypeTextToImage      StepType = "textToImage"
	TypeVideoGen         StepType = "videoGen"
	TypeImageUpscaler    StepType = "imageUpscaler"
	TypeVideoUpscaler    StepType = "videoUpscaler"
	TypeVideoEnhancement StepType = "videoEnhancement"
)

// Input is the closed set of step payloads. Adding a variant means adding a Visitor
// method, so every dispatch site fails to compile until it handles the new type.
type Input interface {
	StepType() StepType
	Accept(v Visitor) error
	sealed()
}

// Visitor dispatches over every Input variant.
type Visitor interface {
	TextToImage(in *TextToImageInput) error
	VideoGen(in *VideoGenInput) error
	ImageUpscaler(in *ImageUpscalerInput) error
	VideoUpscaler(in *VideoUpscalerInput) error
	VideoEnhancement(in *VideoEnhancementInput) error
}

// SourceRef points at the output of an earlier step in the same workflow.
type SourceRef struct {
	Step string `json:"$ref"`
	Path string `json:"path"`
}

// MediaSource is either a literal URL or a reference to a previous step's output.
type MediaSource struct {
	URL string
	Ref *SourceRef
}

func (m MediaSource) IsZero() bool {
	return m.URL == "" && m.Ref == nil
}

func (m MediaSource) MarshalJSON() ([]byte, error) {
	if m.Ref != nil {
		return json.Marshal(m.Ref)
	}
	return json.Marshal(m.URL)
}

func (m *MediaSource) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var ref SourceRef
		if err := json.Unmarshal(data, &ref); err != nil {
			return err
		}
		*m = MediaSource{Ref: &ref}
		return nil
	}
	var url string
	if err := json.Unmarshal(data, &url); err != nil {
		return err
	}
	*m = MediaSource{URL: url}
	return nil
}

// ResourceWeight is a resource as sent inside a step.
type ResourceWeight struct {
	ID       string  `json:"id"`
	Strength float64 `json:"strength,omitempty"`
	Role     string  `json:"role,omitempty"`
}

type TextToImageInput struct {
	Engine         string           `json:"engine"`
	Resources      []ResourceWeight `json:"resources,omitempty"`
	Prompt         string           `json:"prompt"`
	NegativePrompt string           `json:"negativePrompt,omitempty"`
	Width          int              `json:"width"`
	Height         int              `json:"height"`
	Steps          int              `json:"steps"`
	CFGScale       float64          `json:"cfgScale"`
	Sampler        string           `json:"sampler,omitempty"`
	Seed           *int64           `json:"seed,omitempty"`
	Quantity       int              `json:"quantity"`
	Source         *MediaSource     `json:"sourceUrl,omitempty"`
	Denoise        float64          `json:"denoise,omitempty"`
}

type VideoGenInput struct {
	Engine         string           `json:"engine"`
	Resources      []ResourceWeight `json:"resources,omitempty"`
	Prompt         string           `json:"prompt,omitempty"`
	NegativePrompt string           `json:"negativePrompt,omitempty"`
	Source         *MediaSource     `json:"sourceUrl,omitempty"`
	Duration       int              `json:"duration"`
	AspectRatio    string           `json:"aspectRatio,omitempty"`
	Seed           *int64           `json:"seed,omitempty"`
}

type ImageUpscalerInput struct {
	Source      MediaSource `json:"sourceUrl"`
	ScaleFactor float64     `json:"scaleFactor"`
}

type VideoUpscalerInput struct {
	Source      MediaSource `json:"sourceUrl"`
	ScaleFactor float64     `json:"scaleFactor"`
}

// VideoEnhancementInput interpolates frames by Multiplier and optionally upscales.
type VideoEnhancementInput struct {
	Source      MediaSource `json:"sourceUrl"`
	Multiplier  int         `json:"multiplier"`
	ScaleFactor float64     `json:"scaleFactor,omitempty"`
}

func (*TextToImageInput) StepType() StepType      { return TypeTextToImage }
func (*VideoGenInput) StepType() StepType         { return TypeVideoGen }
func (*ImageUpscalerInput) StepType() StepType    { return TypeImageUpscaler }
func (*VideoUpscalerInput) StepType() StepType    { return TypeVideoUpscaler }
func (*VideoEnhancementInput) StepType() StepType { return TypeVideoEnhancement }

func (in *TextToImageInput) Accept(v Visitor) error      { return v.TextToImage(in) }
func (in *VideoGenInput) Accept(v Visitor) error         { return v.VideoGen(in) }
func (in *ImageUpscalerInput) Accept(v Visitor) error    { return v.ImageUpscaler(in) }
func (in *VideoUpscalerInput) Accept(v Visitor) error    { return v.VideoUpscaler(in) }
func (in *VideoEnhancementInput) Accept(v Visitor) error { return v.VideoEnhancement(in) }

func (*TextToImageInput) sealed()      {}
func (*VideoGenInput) sealed()         {}
func (*ImageUpscalerInput) sealed()    {}
func (*VideoUpscalerInput) sealed()    {}
func (*VideoEnhancementInput) sealed() {}

// Template is one typed unit of work. It is built once and submitted once.
type Template struct {
	Name     string
	Input    Input
	Metadata map[string]any
}

// Type returns the `$type` of the template's input.
func (t Template) Type() StepType {
	if t.Input == nil {
		return ""
	}
	return t.Input.StepType()
}

type wireTemplate struct {
	Type     StepType        `json:"$type"`
	Name     string          `json:"name"`
	Input    json.RawMessage `json:"input"`
	Metadata map[string]any  `json:"metadata,omitempty"`
}

func (t Template) MarshalJSON() ([]byte, error) {
	if t.Input == nil {
		return nil, fmt.Errorf("step %q has no input", t.Name)
	}
	raw, err := json.Marshal(t.Input)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireTemplate{Type: t.Type(), Name: t.Name, Input: raw, Metadata: t.Metadata})
}

func (t *Template) UnmarshalJSON(data []byte) error {
	var wire wireTemplate
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	var in Input
	switch wire.Type {
	case TypeTextToImage:
		in = &TextToImageInput{}
	case TypeVideoGen:
		in = &VideoGenInput{}
	case TypeImageUpscaler:
		in = &ImageUpscalerInput{}
	case TypeVideoUpscaler:
		in = &VideoUpscalerInput{}
	case TypeVideoEnhancement:
		in = &VideoEnhancementInput{}
	default:
		return fmt.Errorf("unknown step type %q", wire.Type)
	}
	if len(wire.Input) > 0 {
		if err := json.Unmarshal(wire.Input, in); err != nil {
			return fmt.Errorf("decode %s input: %w", wire.Type, err)
		}
	}
	*t = Template{Name: wire.Name, Input: in, Metadata: wire.Metadata}
	return nil
}
