// Package image registers the raster tools on top of the imaging library:
// resize, crop, rotate, flip, format conversion, and lossy recompression.
// Every operation accepts a batch; single-file requests are a batch of one.
package image

import (
	"context"
	"fmt"
	stdimage "image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/HugoSmits86/nativewebp"
	"github.com/disintegration/imaging"

	"github.com/snapconvert/snapconvert/core/assets"
	"github.com/snapconvert/snapconvert/core/registry"
)

var (
	imageExts  = []string{".jpg", ".jpeg", ".png", ".gif", ".tif", ".tiff", ".bmp"}
	imageMIMEs = []string{"image/jpeg", "image/png", "image/gif", "image/tiff", "image/bmp"}
)

// formatExts maps the outputFormat parameter to the extension the encoder
// keys on. webp goes through nativewebp instead of imaging; the encoding is
// lossless, so the quality knob does not apply to it.
var formatExts = map[string]string{
	"jpeg": ".jpg",
	"png":  ".png",
	"gif":  ".gif",
	"tiff": ".tiff",
	"bmp":  ".bmp",
	"webp": ".webp",
}

// Register adds all image operations to the registry.
func Register(r *registry.Registry) error {
	specs := []*registry.OperationSpec{
		{
			ID:            "image.resize",
			Arity:         registry.ArityMultiple,
			MinInputs:     1,
			Kind:          registry.Transform,
			AcceptedExts:  imageExts,
			AcceptedMIMEs: imageMIMEs,
			ResultPrefix:  "resized-",
			ParamSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"width":  map[string]any{"type": "integer", "minimum": 1, "maximum": 10000},
					"height": map[string]any{"type": "integer", "minimum": 1, "maximum": 10000},
					"fit":    map[string]any{"type": "boolean"},
				},
				"anyOf": []any{
					map[string]any{"required": []any{"width"}},
					map[string]any{"required": []any{"height"}},
				},
			},
			Handler: batch(resizeOne),
		},
		{
			ID:            "image.crop",
			Arity:         registry.ArityMultiple,
			MinInputs:     1,
			Kind:          registry.Transform,
			AcceptedExts:  imageExts,
			AcceptedMIMEs: imageMIMEs,
			ResultPrefix:  "cropped-",
			ParamSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"x":      map[string]any{"type": "integer", "minimum": 0},
					"y":      map[string]any{"type": "integer", "minimum": 0},
					"width":  map[string]any{"type": "integer", "minimum": 1},
					"height": map[string]any{"type": "integer", "minimum": 1},
				},
				"required": []any{"width", "height"},
			},
			Handler: batch(cropOne),
		},
		{
			ID:            "image.rotate",
			Arity:         registry.ArityMultiple,
			MinInputs:     1,
			Kind:          registry.Transform,
			AcceptedExts:  imageExts,
			AcceptedMIMEs: imageMIMEs,
			ResultPrefix:  "rotated-",
			ParamSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"angle": map[string]any{"type": "number", "minimum": -360, "maximum": 360},
				},
				"required": []any{"angle"},
			},
			Handler: batch(rotateOne),
		},
		{
			ID:            "image.flip",
			Arity:         registry.ArityMultiple,
			MinInputs:     1,
			Kind:          registry.Transform,
			AcceptedExts:  imageExts,
			AcceptedMIMEs: imageMIMEs,
			ResultPrefix:  "flipped-",
			ParamSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"direction": map[string]any{
						"type": "string",
						"enum": []any{"horizontal", "vertical"},
					},
				},
				"required": []any{"direction"},
			},
			Handler: batch(flipOne),
		},
		{
			ID:            "image.convert",
			Arity:         registry.ArityMultiple,
			MinInputs:     1,
			Kind:          registry.Transform,
			AcceptedExts:  imageExts,
			AcceptedMIMEs: imageMIMEs,
			ResultPrefix:  "converted-",
			ParamSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"outputFormat": map[string]any{
						"type": "string",
						"enum": []any{"jpeg", "png", "gif", "tiff", "bmp", "webp"},
					},
					"quality": map[string]any{"type": "integer"},
				},
				"required": []any{"outputFormat"},
			},
			Handler: batch(convertOne),
		},
		{
			ID:            "image.compress",
			Arity:         registry.ArityMultiple,
			MinInputs:     1,
			Kind:          registry.Transform,
			AcceptedExts:  imageExts,
			AcceptedMIMEs: imageMIMEs,
			ResultPrefix:  "compressed-",
			ParamSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"quality": map[string]any{"type": "integer"},
				},
			},
			Handler: batch(compressOne),
		},
	}
	for _, spec := range specs {
		if err := r.Register(spec); err != nil {
			return err
		}
	}
	return nil
}

// oneFn transforms a single decoded image and reports the output file name
// to use (usually the sanitized original, sometimes with a new extension).
type oneFn func(img stdimage.Image, in assets.Uploaded, params map[string]any) (stdimage.Image, string, []imaging.EncodeOption, error)

// batch lifts a per-image transform into a handler that walks the request's
// inputs, checking for cancellation between files.
func batch(fn oneFn) registry.Handler {
	return func(ctx context.Context, req *registry.Request) (*registry.OutputSet, error) {
		var outputs []assets.Output
		for _, in := range req.Inputs {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
			img, err := imaging.Open(in.Path)
			if err != nil {
				return nil, fmt.Errorf("decode %s: %w", in.OriginalName, err)
			}
			result, name, opts, err := fn(img, in, req.Params)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", in.OriginalName, err)
			}
			path := uniquePath(req.WorkDir, name)
			if err := saveImage(result, path, opts); err != nil {
				return nil, fmt.Errorf("encode %s: %w", in.OriginalName, err)
			}
			outputs = append(outputs, assets.Output{Path: path, SuggestedName: filepath.Base(path)})
		}
		return &registry.OutputSet{Outputs: outputs}, nil
	}
}

func resizeOne(img stdimage.Image, in assets.Uploaded, params map[string]any) (stdimage.Image, string, []imaging.EncodeOption, error) {
	width := intParam(params, "width", 0)
	height := intParam(params, "height", 0)
	if width == 0 && height == 0 {
		return nil, "", nil, fmt.Errorf("width or height required")
	}
	var out *stdimage.NRGBA
	if boolParam(params, "fit", false) && width > 0 && height > 0 {
		out = imaging.Fit(img, width, height, imaging.Lanczos)
	} else {
		// A zero dimension preserves the aspect ratio.
		out = imaging.Resize(img, width, height, imaging.Lanczos)
	}
	return out, assets.SanitizeName(in.OriginalName), nil, nil
}

func cropOne(img stdimage.Image, in assets.Uploaded, params map[string]any) (stdimage.Image, string, []imaging.EncodeOption, error) {
	x := intParam(params, "x", 0)
	y := intParam(params, "y", 0)
	width := intParam(params, "width", 0)
	height := intParam(params, "height", 0)
	rect := stdimage.Rect(x, y, x+width, y+height)
	if !rect.In(img.Bounds()) {
		return nil, "", nil, fmt.Errorf("crop rectangle %v exceeds image bounds %v", rect, img.Bounds())
	}
	return imaging.Crop(img, rect), assets.SanitizeName(in.OriginalName), nil, nil
}

func rotateOne(img stdimage.Image, in assets.Uploaded, params map[string]any) (stdimage.Image, string, []imaging.EncodeOption, error) {
	angle := floatParam(params, "angle", 0)
	name := assets.SanitizeName(in.OriginalName)
	switch angle {
	case 90:
		return imaging.Rotate270(img), name, nil, nil
	case 180:
		return imaging.Rotate180(img), name, nil, nil
	case 270:
		return imaging.Rotate90(img), name, nil, nil
	default:
		// The library rotates counter-clockwise; negate for the
		// clockwise convention the parameter uses.
		return imaging.Rotate(img, -angle, color.White), name, nil, nil
	}
}

func flipOne(img stdimage.Image, in assets.Uploaded, params map[string]any) (stdimage.Image, string, []imaging.EncodeOption, error) {
	direction, _ := params["direction"].(string)
	name := assets.SanitizeName(in.OriginalName)
	if direction == "vertical" {
		return imaging.FlipV(img), name, nil, nil
	}
	return imaging.FlipH(img), name, nil, nil
}

func convertOne(img stdimage.Image, in assets.Uploaded, params map[string]any) (stdimage.Image, string, []imaging.EncodeOption, error) {
	format, _ := params["outputFormat"].(string)
	ext, ok := formatExts[format]
	if !ok {
		return nil, "", nil, fmt.Errorf("unsupported output format %q", format)
	}
	name := assets.SanitizeName(in.OriginalName)
	name = strings.TrimSuffix(name, filepath.Ext(name)) + ext
	return img, name, qualityOpts(params, 90), nil
}

func compressOne(img stdimage.Image, in assets.Uploaded, params map[string]any) (stdimage.Image, string, []imaging.EncodeOption, error) {
	return img, assets.SanitizeName(in.OriginalName), qualityOpts(params, 75), nil
}

// saveImage encodes by extension. imaging covers every format except webp,
// which nativewebp writes losslessly.
func saveImage(img stdimage.Image, path string, opts []imaging.EncodeOption) error {
	if strings.ToLower(filepath.Ext(path)) != ".webp" {
		return imaging.Save(img, path, opts...)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := nativewebp.Encode(f, img, nil); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func qualityOpts(params map[string]any, fallback int) []imaging.EncodeOption {
	q := intParam(params, "quality", fallback)
	if q < 1 {
		q = 1
	}
	if q > 100 {
		q = 100
	}
	return []imaging.EncodeOption{
		imaging.JPEGQuality(q),
		imaging.PNGCompressionLevel(png.BestCompression),
	}
}

// uniquePath keeps original base names while avoiding collisions inside
// one request's workspace.
func uniquePath(dir, name string) string {
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		path = filepath.Join(dir, fmt.Sprintf("%s-%d%s", stem, i, ext))
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
	}
}

func intParam(params map[string]any, key string, fallback int) int {
	if f, ok := params[key].(float64); ok {
		return int(f)
	}
	return fallback
}

func floatParam(params map[string]any, key string, fallback float64) float64 {
	if f, ok := params[key].(float64); ok {
		return f
	}
	return fallback
}

func boolParam(params map[string]any, key string, fallback bool) bool {
	if b, ok := params[key].(bool); ok {
		return b
	}
	return fallback
}
