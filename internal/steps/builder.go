package steps

import (
	"fmt"
	"slices"
	"unicode/utf8"

	"orchestrator/internal/catalog"
	"orchestrator/internal/domain"
)

const (
	maxPromptLength = 1500
	maxQuantity     = 4
	maxScaleFactor  = 4
	maxMultiplier   = 4
	defaultDenoise  = 0.75
	defaultAspect   = "16:9"
)

// videoRules are the duration and aspect ratio sets an engine accepts.
type videoRules struct {
	durations    []int
	aspectRatios []string
}

var (
	wideAspects  = []string{"16:9", "9:16", "1:1"}
	defaultVideo = videoRules{durations: []int{5}, aspectRatios: wideAspects}
	engineVideo  = map[string]videoRules{
		"kling":      {durations: []int{5, 10}, aspectRatios: wideAspects},
		"haiper":     {durations: []int{2, 4, 8}, aspectRatios: []string{"16:9", "9:16", "1:1", "4:3", "3:4"}},
		"minimax":    {durations: []int{6}, aspectRatios: []string{"16:9"}},
		"mochi":      {durations: []int{5}, aspectRatios: []string{"16:9"}},
		"lightricks": {durations: []int{5, 10}, aspectRatios: wideAspects},
		"hunyuan":    {durations: []int{3, 5}, aspectRatios: wideAspects},
		"wan":        {durations: []int{3, 5}, aspectRatios: wideAspects},
	}
)

func rulesFor(engine string) videoRules {
	if r, ok := engineVideo[catalog.NormalizeKey(engine)]; ok {
		return r
	}
	return defaultVideo
}

// StepName is the name given to the i-th template of a workflow.
func StepName(i int) string {
	return fmt.Sprintf("$%d", i)
}

// Builder turns a compatibility-checked request into provider step templates. It
// never performs I/O.
type Builder struct{}

func NewBuilder() *Builder {
	return &Builder{}
}

// Build returns the templates in pipeline order. Any input problem is reported as a
// *domain.ValidationError with field tags.
func (b *Builder) Build(req domain.GenerationRequest, def catalog.WorkflowDefinition) ([]Template, error) {
	primary, err := buildPrimary(req, def)
	if err != nil {
		return nil, err
	}
	templates := []Template{{Name: StepName(0), Input: primary, Metadata: metadata(req, def)}}
	if req.Upscale == nil {
		return templates, nil
	}
	chain := &chainVisitor{from: templates[0].Name, opts: *req.Upscale}
	if err := primary.Accept(chain); err != nil {
		return nil, err
	}
	templates = append(templates, Template{Name: StepName(1), Input: chain.next, Metadata: metadata(req, def)})
	return templates, nil
}

func buildPrimary(req domain.GenerationRequest, def catalog.WorkflowDefinition) (Input, error) {
	errs := &domain.ValidationError{}
	p := newParams(req.Params, errs)
	for _, field := range def.Input {
		p.require(field)
	}

	var in Input
	switch def.Key {
	case catalog.WorkflowTxt2Img, catalog.WorkflowImg2Img:
		errs.Step = string(TypeTextToImage)
		in = textToImage(p, req, def.Key == catalog.WorkflowImg2Img)
	case catalog.WorkflowTxt2Vid, catalog.WorkflowImg2Vid:
		errs.Step = string(TypeVideoGen)
		in = videoGen(p, req, def.Key == catalog.WorkflowImg2Vid)
	case catalog.WorkflowImageUpscale:
		errs.Step = string(TypeImageUpscaler)
		in = &ImageUpscalerInput{Source: p.source("sourceUrl"), ScaleFactor: scaleFactor(p, true)}
	case catalog.WorkflowVideoUpscale:
		errs.Step = string(TypeVideoUpscaler)
		in = &VideoUpscalerInput{Source: p.source("sourceUrl"), ScaleFactor: scaleFactor(p, true)}
	case catalog.WorkflowVideoEnhance:
		errs.Step = string(TypeVideoEnhancement)
		in = videoEnhancement(p)
	default:
		errs.Add("workflow", "%q has no step builder", def.Key)
	}
	if err := errs.OrNil(); err != nil {
		return nil, err
	}
	return in, nil
}

func textToImage(p params, req domain.GenerationRequest, fromImage bool) *TextToImageInput {
	in := &TextToImageInput{
		Engine:         req.Engine,
		Resources:      weights(req.Resources),
		Prompt:         prompt(p, "prompt"),
		NegativePrompt: prompt(p, "negativePrompt"),
		Width:          dimension(p, "width"),
		Height:         dimension(p, "height"),
		Steps:          p.intIn("steps", 30, 1, 100),
		CFGScale:       p.floatIn("cfgScale", 7, 1, 30),
		Sampler:        p.str("sampler"),
		Seed:           p.seed("seed"),
		Quantity:       p.intIn("quantity", 1, 1, maxQuantity),
	}
	if fromImage {
		src := p.source("sourceUrl")
		in.Source = &src
		in.Denoise = defaultDenoise
		if d, ok := p.number("denoise"); ok {
			if d <= 0 || d > 1 {
				p.errs.Add("denoise", "must be greater than 0 and at most 1")
			} else {
				in.Denoise = d
			}
		}
	}
	return in
}

func videoGen(p params, req domain.GenerationRequest, fromImage bool) *VideoGenInput {
	rules := rulesFor(req.Engine)
	in := &VideoGenInput{
		Engine:         req.Engine,
		Resources:      weights(req.Resources),
		Prompt:         prompt(p, "prompt"),
		NegativePrompt: prompt(p, "negativePrompt"),
		Seed:           p.seed("seed"),
		Duration:       rules.durations[0],
		AspectRatio:    defaultAspect,
	}
	if !slices.Contains(rules.aspectRatios, defaultAspect) {
		in.AspectRatio = rules.aspectRatios[0]
	}
	if fromImage {
		src := p.source("sourceUrl")
		in.Source = &src
	}
	if d, ok := p.integer("duration"); ok {
		if !slices.Contains(rules.durations, d) {
			p.errs.Add("duration", "must be one of %v for engine %s", rules.durations, req.Engine)
		} else {
			in.Duration = d
		}
	}
	if ar := p.str("aspectRatio"); ar != "" {
		if !slices.Contains(rules.aspectRatios, ar) {
			p.errs.Add("aspectRatio", "must be one of %v for engine %s", rules.aspectRatios, req.Engine)
		} else {
			in.AspectRatio = ar
		}
	}
	return in
}

func videoEnhancement(p params) *VideoEnhancementInput {
	in := &VideoEnhancementInput{Source: p.source("sourceUrl")}
	if in.Source.IsZero() && !p.errs.Has("sourceUrl") {
		p.errs.Add("sourceUrl", "is required")
	}
	if m, ok := p.integer("multiplier"); ok {
		switch {
		case m <= 0:
			p.errs.Add("multiplier", "must be greater than 0")
		case m > maxMultiplier:
			p.errs.Add("multiplier", "must be at most %d", maxMultiplier)
		default:
			in.Multiplier = m
		}
	} else if !p.errs.Has("multiplier") {
		p.errs.Add("multiplier", "is required")
	}
	if p.has("scaleFactor") {
		in.ScaleFactor = scaleFactor(p, false)
	}
	return in
}

func scaleFactor(p params, required bool) float64 {
	v := p.positive("scaleFactor", required)
	if v > maxScaleFactor {
		p.errs.Add("scaleFactor", "must be at most %d", maxScaleFactor)
		return 0
	}
	return v
}

func prompt(p params, field string) string {
	s := p.str(field)
	if utf8.RuneCountInString(s) > maxPromptLength {
		p.errs.Add(field, "must be at most %d characters", maxPromptLength)
	}
	return s
}

func dimension(p params, field string) int {
	v := p.intIn(field, 1024, 64, 2048)
	if v%8 != 0 {
		p.errs.Add(field, "must be a multiple of 8")
	}
	return v
}

func weights(resources []domain.ResourceInput) []ResourceWeight {
	if len(resources) == 0 {
		return nil
	}
	out := make([]ResourceWeight, 0, len(resources))
	for _, r := range resources {
		out = append(out, ResourceWeight{ID: r.Ref.ID, Strength: r.Strength, Role: r.Role})
	}
	return out
}

func metadata(req domain.GenerationRequest, def catalog.WorkflowDefinition) map[string]any {
	md := map[string]any{"workflow": def.Key}
	if req.Engine != "" {
		md["engine"] = req.Engine
	}
	return md
}

// chainVisitor builds the upscaler that follows a generation step.
type chainVisitor struct {
	from string
	opts domain.UpscaleOptions
	next Input
}

func (c *chainVisitor) scale(step StepType) (float64, error) {
	if c.opts.ScaleFactor <= 0 {
		errs := &domain.ValidationError{Step: string(step)}
		errs.Add("upscale.scaleFactor", "must be greater than 0")
		return 0, errs
	}
	if c.opts.ScaleFactor > maxScaleFactor {
		errs := &domain.ValidationError{Step: string(step)}
		errs.Add("upscale.scaleFactor", "must be at most %d", maxScaleFactor)
		return 0, errs
	}
	return c.opts.ScaleFactor, nil
}

func (c *chainVisitor) TextToImage(*TextToImageInput) error {
	factor, err := c.scale(TypeImageUpscaler)
	if err != nil {
		return err
	}
	c.next = &ImageUpscalerInput{
		Source:      MediaSource{Ref: &SourceRef{Step: c.from, Path: "output.images[0].url"}},
		ScaleFactor: factor,
	}
	return nil
}

func (c *chainVisitor) VideoGen(*VideoGenInput) error {
	factor, err := c.scale(TypeVideoUpscaler)
	if err != nil {
		return err
	}
	c.next = &VideoUpscalerInput{
		Source:      MediaSource{Ref: &SourceRef{Step: c.from, Path: "output.video.url"}},
		ScaleFactor: factor,
	}
	return nil
}

func (c *chainVisitor) ImageUpscaler(*ImageUpscalerInput) error {
	return c.unsupported(TypeImageUpscaler)
}

func (c *chainVisitor) VideoUpscaler(*VideoUpscalerInput) error {
	return c.unsupported(TypeVideoUpscaler)
}

func (c *chainVisitor) VideoEnhancement(*VideoEnhancementInput) error {
	return c.unsupported(TypeVideoEnhancement)
}

func (c *chainVisitor) unsupported(step StepType) error {
	errs := &domain.ValidationError{Step: string(step)}
	errs.Add("upscale", "cannot chain an upscaler after %s", step)
	return errs
}
