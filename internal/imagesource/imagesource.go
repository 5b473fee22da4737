// Package imagesource turns a file-picker selection or a drag-and-drop upload
// into an image payload plus a local preview. It never touches the network.
package imagesource

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/visualtrans/internal/types"
	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// DefaultPreviewDimension bounds the longest side of the preview rendition.
const DefaultPreviewDimension = 512

// InvalidInputError reports a selection or drop that cannot start a run.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return "invalid input: " + e.Reason
}

// Input is a user action normalized to bytes plus the media type the user agent declared for them.
type Input struct {
	Source       types.Source
	Name         string
	DeclaredType string
	Data         []byte
}

// FromPath reads a file chosen through the picker. The declared type comes from the file extension.
func FromPath(path string) (Input, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Input{}, &InvalidInputError{Reason: fmt.Sprintf("no file at %s", path)}
		}
		return Input{}, fmt.Errorf("failed to access %s: %w", path, err)
	}
	if info.IsDir() {
		return Input{}, &InvalidInputError{Reason: fmt.Sprintf("%s is a directory, expected an image file", path)}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Input{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Input{
		Source:       types.SourcePicker,
		Name:         filepath.Base(path),
		DeclaredType: mime.TypeByExtension(strings.ToLower(filepath.Ext(path))),
		Data:         data,
	}, nil
}

// FromDrop wraps bytes received from a drop target.
func FromDrop(name, declaredType string, data []byte) Input {
	return Input{Source: types.SourceDrop, Name: name, DeclaredType: declaredType, Data: data}
}

// FromFileHeader reads a multipart file part. A nil header is a drop without a file.
func FromFileHeader(fh *multipart.FileHeader, source types.Source) (Input, error) {
	if fh == nil {
		return Input{Source: source}, nil
	}
	f, err := fh.Open()
	if err != nil {
		return Input{}, fmt.Errorf("failed to open upload %s: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return Input{}, fmt.Errorf("failed to read upload %s: %w", fh.Filename, err)
	}
	return Input{
		Source:       source,
		Name:         fh.Filename,
		DeclaredType: fh.Header.Get("Content-Type"),
		Data:         data,
	}, nil
}

// Capturer validates inputs and builds previews.
type Capturer struct {
	PreviewDimension int
}

// New returns a Capturer whose previews fit in a maxDim x maxDim box.
func New(maxDim int) *Capturer {
	if maxDim <= 0 {
		maxDim = DefaultPreviewDimension
	}
	return &Capturer{PreviewDimension: maxDim}
}

// Capture validates in and returns the payload and its preview.
// Both entry points share this path, so their validation and payload shape are identical.
func (c *Capturer) Capture(in Input) (types.ImagePayload, types.PreviewHandle, error) {
	if len(in.Data) == 0 {
		return types.ImagePayload{}, types.PreviewHandle{}, &InvalidInputError{Reason: "no file was provided"}
	}

	mediaType, err := resolveMediaType(in.DeclaredType, in.Data)
	if err != nil {
		return types.ImagePayload{}, types.PreviewHandle{}, err
	}

	name := in.Name
	if name == "" {
		name = "image" + extensionFor(mediaType)
	}

	data := make([]byte, len(in.Data))
	copy(data, in.Data)

	payload := types.ImagePayload{
		Name:      name,
		MediaType: mediaType,
		Data:      data,
		Source:    in.Source,
	}
	return payload, c.preview(payload), nil
}

// resolveMediaType trusts a specific declared type but requires it to be image/*.
// Missing or generic declarations fall back to content sniffing.
func resolveMediaType(declared string, data []byte) (string, error) {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if parsed, _, err := mime.ParseMediaType(declared); err == nil {
		declared = parsed
	}

	if declared != "" && declared != "application/octet-stream" {
		if !strings.HasPrefix(declared, "image/") {
			return "", &InvalidInputError{Reason: fmt.Sprintf("only image files can be uploaded (got %s)", declared)}
		}
		return declared, nil
	}

	sniffed := http.DetectContentType(data)
	if parsed, _, err := mime.ParseMediaType(sniffed); err == nil {
		sniffed = parsed
	}
	if !strings.HasPrefix(sniffed, "image/") {
		return "", &InvalidInputError{Reason: fmt.Sprintf("only image files can be uploaded (content looks like %s)", sniffed)}
	}
	return sniffed, nil
}

// preview downsizes decodable images to a JPEG data URI. Anything else is
// embedded as-is so the caller still has something to show.
func (c *Capturer) preview(p types.ImagePayload) types.PreviewHandle {
	img, err := decode(p.Data)
	if err != nil {
		return types.PreviewHandle{DataURI: dataURI(p.MediaType, p.Data)}
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w > c.PreviewDimension || h > c.PreviewDimension {
		if w >= h {
			img = imaging.Resize(img, c.PreviewDimension, 0, imaging.Lanczos)
		} else {
			img = imaging.Resize(img, 0, c.PreviewDimension, imaging.Lanczos)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return types.PreviewHandle{DataURI: dataURI(p.MediaType, p.Data), Width: w, Height: h}
	}
	return types.PreviewHandle{
		DataURI: dataURI("image/jpeg", buf.Bytes()),
		Width:   img.Bounds().Dx(),
		Height:  img.Bounds().Dy(),
	}
}

func decode(data []byte) (image.Image, error) {
	if img, err := imaging.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	return nil, fmt.Errorf("image: unknown or unsupported format")
}

func dataURI(mediaType string, data []byte) string {
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func extensionFor(mediaType string) string {
	switch mediaType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	}
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}

// DecodeDataURI splits a base64 data URI into its media type and bytes.
func DecodeDataURI(uri string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", nil, fmt.Errorf("not a data URI")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return "", nil, fmt.Errorf("data URI is not base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("failed to decode data URI: %w", err)
	}
	return strings.TrimSuffix(meta, ";base64"), data, nil
}
