package imageutil

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"

	_ "image/gif"

	"github.com/anthonynsimon/bild/transform"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Dimensions decodes only the image header. Callers treat an error as
// "unknown size" rather than a failure.
func Dimensions(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, err
	}

	return cfg.Width, cfg.Height, nil
}

// FitWithin downscales data so that its longest side is at most maxSide.
// Images already within bounds, or that cannot be decoded, are returned
// unchanged together with their original mime type.
func FitWithin(data []byte, mimeType string, maxSide int) ([]byte, string, error) {
	if maxSide <= 0 {
		return data, mimeType, nil
	}

	width, height, err := Dimensions(data)
	if err != nil || (width <= maxSide && height <= maxSide) {
		return data, mimeType, nil
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return data, mimeType, nil
	}

	newWidth, newHeight := maxSide, maxSide
	if width >= height {
		newHeight = max(1, height*maxSide/width)
	} else {
		newWidth = max(1, width*maxSide/height)
	}
	resized := transform.Resize(img, newWidth, newHeight, transform.Linear)

	var output bytes.Buffer
	switch format {
	case "jpeg":
		err = jpeg.Encode(&output, resized, &jpeg.Options{Quality: 90})
		mimeType = "image/jpeg"
	default:
		err = png.Encode(&output, resized)
		mimeType = "image/png"
	}
	if err != nil {
		return nil, "", err
	}

	return output.Bytes(), mimeType, nil
}

// ExtensionFor maps the mime types we store to a file extension.
func ExtensionFor(mimeType string) string {
	switch mimeType {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "image/bmp":
		return ".bmp"
	default:
		return ".png"
	}
}
