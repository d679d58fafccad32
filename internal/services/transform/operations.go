package transform

import (
	"sort"
	"strings"

	"github.com/cozy-creator/lineage-server/internal/types"
	"github.com/cozy-creator/lineage-server/internal/utils/jsonutil"
)

type OperationKind string

const (
	KindEdit    OperationKind = "edit"
	KindUpscale OperationKind = "upscale"
)

// Request is one fully resolved call to an AI endpoint. The set of
// implementations is closed: EditRequest and UpscaleRequest.
type Request interface {
	Operation() string
	Endpoint() string
	Kind() OperationKind
	// Payload builds the JSON body sent to the endpoint for imageURI.
	Payload(imageURI string) map[string]any
}

type EditParams struct {
	Prompt            string  `json:"prompt"`
	NegativePrompt    string  `json:"negative_prompt,omitempty"`
	NumImages         int     `json:"num_images,omitempty"`
	OutputFormat      string  `json:"output_format,omitempty"`
	GuidanceScale     float64 `json:"guidance_scale,omitempty"`
	NumInferenceSteps int     `json:"num_inference_steps,omitempty"`
	Seed              *int64  `json:"seed,omitempty"`
	AspectRatio       string  `json:"aspect_ratio,omitempty"`
}

type UpscaleParams struct {
	Scale             float64 `json:"scale,omitempty"`
	Prompt            string  `json:"prompt,omitempty"`
	Creativity        float64 `json:"creativity,omitempty"`
	Resemblance       float64 `json:"resemblance,omitempty"`
	NumInferenceSteps int     `json:"num_inference_steps,omitempty"`
	OutputFormat      string  `json:"output_format,omitempty"`
}

type EditRequest struct {
	op         string
	endpoint   string
	multiImage bool
	Params     EditParams
}

func (r *EditRequest) Operation() string   { return r.op }
func (r *EditRequest) Endpoint() string    { return r.endpoint }
func (r *EditRequest) Kind() OperationKind { return KindEdit }

func (r *EditRequest) Payload(imageURI string) map[string]any {
	payload := map[string]any{"prompt": r.Params.Prompt}
	if r.multiImage {
		payload["image_urls"] = []string{imageURI}
	} else {
		payload["image_url"] = imageURI
	}

	setIf(payload, "negative_prompt", r.Params.NegativePrompt, r.Params.NegativePrompt != "")
	setIf(payload, "num_images", r.Params.NumImages, r.Params.NumImages > 0)
	setIf(payload, "output_format", r.Params.OutputFormat, r.Params.OutputFormat != "")
	setIf(payload, "guidance_scale", r.Params.GuidanceScale, r.Params.GuidanceScale > 0)
	setIf(payload, "num_inference_steps", r.Params.NumInferenceSteps, r.Params.NumInferenceSteps > 0)
	setIf(payload, "aspect_ratio", r.Params.AspectRatio, r.Params.AspectRatio != "")
	if r.Params.Seed != nil {
		payload["seed"] = *r.Params.Seed
	}

	return payload
}

type UpscaleRequest struct {
	op       string
	endpoint string
	Params   UpscaleParams
}

func (r *UpscaleRequest) Operation() string   { return r.op }
func (r *UpscaleRequest) Endpoint() string    { return r.endpoint }
func (r *UpscaleRequest) Kind() OperationKind { return KindUpscale }

func (r *UpscaleRequest) Payload(imageURI string) map[string]any {
	payload := map[string]any{"image_url": imageURI}

	switch r.op {
	case "clarity-upscale":
		setIf(payload, "upscale_factor", r.Params.Scale, r.Params.Scale > 0)
		setIf(payload, "creativity", r.Params.Creativity, r.Params.Creativity > 0)
		setIf(payload, "resemblance", r.Params.Resemblance, r.Params.Resemblance > 0)
		setIf(payload, "num_inference_steps", r.Params.NumInferenceSteps, r.Params.NumInferenceSteps > 0)
		setIf(payload, "prompt", r.Params.Prompt, r.Params.Prompt != "")
	default:
		setIf(payload, "scale", r.Params.Scale, r.Params.Scale > 0)
		setIf(payload, "output_format", r.Params.OutputFormat, r.Params.OutputFormat != "")
	}

	return payload
}

type operationSpec struct {
	kind       OperationKind
	endpoint   string
	multiImage bool
	defaults   map[string]any
}

// Adding a model means adding an entry here.
var catalog = map[string]operationSpec{
	"nano-banana-edit": {
		kind:       KindEdit,
		endpoint:   "fal-ai/nano-banana/edit",
		multiImage: true,
		defaults:   map[string]any{"num_images": 1, "output_format": "png"},
	},
	"qwen-image-edit": {
		kind:     KindEdit,
		endpoint: "fal-ai/qwen-image-edit",
		defaults: map[string]any{"num_images": 1, "guidance_scale": 4.0, "num_inference_steps": 30, "output_format": "png"},
	},
	"seedream-edit": {
		kind:       KindEdit,
		endpoint:   "fal-ai/bytedance/seedream/v4/edit",
		multiImage: true,
		defaults:   map[string]any{"num_images": 1},
	},
	"flux-kontext": {
		kind:     KindEdit,
		endpoint: "fal-ai/flux-pro/kontext",
		defaults: map[string]any{"num_images": 1, "guidance_scale": 3.5, "output_format": "png"},
	},
	"clarity-upscale": {
		kind:     KindUpscale,
		endpoint: "fal-ai/clarity-upscaler",
		defaults: map[string]any{"scale": 2.0, "creativity": 0.35, "resemblance": 0.6, "num_inference_steps": 18},
	},
	"esrgan-upscale": {
		kind:     KindUpscale,
		endpoint: "fal-ai/esrgan",
		defaults: map[string]any{"scale": 2.0, "output_format": "png"},
	},
}

// Operations lists the known operation keys.
func Operations() []string {
	keys := make([]string, 0, len(catalog))
	for k := range catalog {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}

func IsSupported(operation string) bool {
	_, ok := catalog[operation]
	return ok
}

// RequiresPrompt reports whether operation is an edit operation.
func RequiresPrompt(operation string) bool {
	spec, ok := catalog[operation]
	return ok && spec.kind == KindEdit
}

// ParseRequest resolves the open parameter bag for operation into its
// typed request, applying the operation's defaults first.
func ParseRequest(operation string, parameters map[string]any) (Request, error) {
	spec, ok := catalog[operation]
	if !ok {
		return nil, types.NewUnsupportedOperationError(operation)
	}

	merged := jsonutil.Merge(spec.defaults, parameters)

	switch spec.kind {
	case KindEdit:
		var params EditParams
		if err := jsonutil.MapToStruct(merged, &params); err != nil {
			return nil, types.NewValidationError("invalid parameters for %s: %v", operation, err)
		}
		params.Prompt = strings.TrimSpace(params.Prompt)
		if params.Prompt == "" {
			return nil, types.NewValidationError("prompt is required for %s", operation)
		}

		return &EditRequest{op: operation, endpoint: spec.endpoint, multiImage: spec.multiImage, Params: params}, nil
	default:
		var params UpscaleParams
		if err := jsonutil.MapToStruct(merged, &params); err != nil {
			return nil, types.NewValidationError("invalid parameters for %s: %v", operation, err)
		}

		return &UpscaleRequest{op: operation, endpoint: spec.endpoint, Params: params}, nil
	}
}

func setIf(m map[string]any, key string, value any, ok bool) {
	if ok {
		m[key] = value
	}
}
