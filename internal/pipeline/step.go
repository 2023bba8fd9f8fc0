package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"studio/internal/domain"
)

// StepKind enumerates the supported preparation transformations.
type StepKind string

const (
	StepCrop              StepKind = "crop"
	StepBackgroundRemoval StepKind = "background-removal"
	StepUpscale           StepKind = "upscale"
	StepFaceEnhance       StepKind = "face-enhance"
)

// Valid reports whether the kind is one of the supported steps.
func (k StepKind) Valid() bool {
	switch k {
	case StepCrop, StepBackgroundRemoval, StepUpscale, StepFaceEnhance:
		return true
	}
	return false
}

// CropRect is a rectangle in the parent version's coordinate space.
type CropRect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Params carries step parameters. Crop is the only step taking any.
type Params struct {
	Crop *CropRect `json:"crop,omitempty"`
}

// NormalizeParams validates params against the step kind and clamps the crop
// rectangle into the parent bounds. Normalization runs before fingerprinting
// so that equivalent requests memoize to the same version.
func NormalizeParams(kind StepKind, params Params, parentW, parentH int) (Params, error) {
	if !kind.Valid() {
		return Params{}, fmt.Errorf("%w: unknown kind %q", domain.ErrInvalidStep, kind)
	}
	if kind != StepCrop {
		if params.Crop != nil {
			return Params{}, fmt.Errorf("%w: %s takes no parameters", domain.ErrInvalidStep, kind)
		}
		return Params{}, nil
	}
	if params.Crop == nil {
		return Params{}, fmt.Errorf("%w: crop requires a rectangle", domain.ErrInvalidStep)
	}

	rect := *params.Crop
	if rect.X < 0 {
		rect.Width += rect.X
		rect.X = 0
	}
	if rect.Y < 0 {
		rect.Height += rect.Y
		rect.Y = 0
	}
	if parentW > 0 && rect.X+rect.Width > parentW {
		rect.Width = parentW - rect.X
	}
	if parentH > 0 && rect.Y+rect.Height > parentH {
		rect.Height = parentH - rect.Y
	}
	if rect.Width <= 0 || rect.Height <= 0 {
		return Params{}, fmt.Errorf("%w: crop rectangle is empty", domain.ErrInvalidStep)
	}
	return Params{Crop: &rect}, nil
}

// Fingerprint derives the stable digest of (kind, normalized params) used in
// the memoization key alongside the parent content hash.
func Fingerprint(kind StepKind, params Params) string {
	canonical := string(kind)
	if params.Crop != nil {
		canonical = fmt.Sprintf("%s|%d,%d,%d,%d", kind, params.Crop.X, params.Crop.Y, params.Crop.Width, params.Crop.Height)
	}
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// MarshalParams encodes normalized params for persistence on the version row.
func MarshalParams(params Params) []byte {
	raw, err := json.Marshal(params)
	if err != nil {
		return []byte("{}")
	}
	return raw
}

func label(kind StepKind, params Params) string {
	switch kind {
	case StepCrop:
		if params.Crop != nil {
			return fmt.Sprintf("Crop %dx%d", params.Crop.Width, params.Crop.Height)
		}
		return "Crop"
	case StepBackgroundRemoval:
		return "Background removed"
	case StepUpscale:
		return "Upscaled 2x"
	case StepFaceEnhance:
		return "Face enhanced"
	}
	return string(kind)
}
