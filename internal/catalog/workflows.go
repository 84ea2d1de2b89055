package catalog

// Category groups workflows by the kind of media they produce.
type Category string

const (
	CategoryImage Category = "image"
	CategoryVideo Category = "video"
)

const (
	WorkflowTxt2Img      = "txt2img"
	WorkflowImg2Img      = "img2img"
	WorkflowTxt2Vid      = "txt2vid"
	WorkflowImg2Vid      = "img2vid"
	WorkflowImageUpscale = "image-upscale"
	WorkflowVideoUpscale = "video-upscale"
	WorkflowVideoEnhance = "video-enhance"
)

// WorkflowDefinition describes a generation operation and the params it requires.
type WorkflowDefinition struct {
	Key      string
	Category Category
	Input    []string
}

// Requires reports whether field is part of the required input shape.
func (d WorkflowDefinition) Requires(field string) bool {
	for _, f := range d.Input {
		if f == field {
			return true
		}
	}
	return false
}
