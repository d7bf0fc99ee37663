package job

import (
	"encoding/json"
	"fmt"
	"net/mail"
	"path/filepath"
	"strings"
)

// Param is the kind-specific payload of a job. The set of implementations is
// closed: ConvertParam and EmailParam.
type Param interface {
	Kind() Kind
	Validate() error
	sealed()
}

type ConvertParam struct {
	InName  string `json:"in_name"`
	OutName string `json:"out_name"`
	InType  string `json:"in_type"`
	OutType string `json:"out_type"`
}

func (ConvertParam) Kind() Kind { return KindImageConversion }
func (ConvertParam) sealed()    {}

func (p ConvertParam) Validate() error {
	if p.InName == "" || p.OutName == "" {
		return fmt.Errorf("%w: in_name and out_name are required", ErrInvalidParam)
	}
	if !supportedImageType(p.InType) {
		return fmt.Errorf("%w: unsupported input type %q", ErrInvalidParam, p.InType)
	}
	// webp can be read but not written.
	if !supportedImageType(p.OutType) || p.OutType == "webp" {
		return fmt.Errorf("%w: unsupported output type %q", ErrInvalidParam, p.OutType)
	}
	return nil
}

// NewConvertParam derives the input and output types from the file extensions.
func NewConvertParam(inName, outName string) (ConvertParam, error) {
	p := ConvertParam{
		InName:  inName,
		OutName: outName,
		InType:  ImageType(inName),
		OutType: ImageType(outName),
	}
	return p, p.Validate()
}

var imageTypes = map[string]string{
	"png":  "png",
	"jpg":  "jpeg",
	"jpeg": "jpeg",
	"gif":  "gif",
	"bmp":  "bmp",
	"tif":  "tiff",
	"tiff": "tiff",
	"webp": "webp",
}

// ImageType normalizes a file name's extension to an image type, or "" when
// the extension is not a known image format.
func ImageType(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	return imageTypes[ext]
}

func supportedImageType(t string) bool {
	for _, v := range imageTypes {
		if v == t {
			return true
		}
	}
	return false
}

type EmailParam struct {
	Address    string `json:"address"`
	Username   string `json:"username"`
	ConfirmURL string `json:"confirm_url"`
}

func (EmailParam) Kind() Kind { return KindEmailConfirmation }
func (EmailParam) sealed()    {}

func (p EmailParam) Validate() error {
	if _, err := mail.ParseAddress(p.Address); err != nil {
		return fmt.Errorf("%w: invalid address %q", ErrInvalidParam, p.Address)
	}
	if p.ConfirmURL == "" {
		return fmt.Errorf("%w: confirm_url is required", ErrInvalidParam)
	}
	return nil
}

func EncodeParam(p Param) (json.RawMessage, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s param: %w", p.Kind(), err)
	}
	return b, nil
}

func DecodeParam(kind Kind, raw json.RawMessage) (Param, error) {
	switch kind {
	case KindImageConversion:
		var p ConvertParam
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s param: %w", kind, err)
		}
		return p, nil
	case KindEmailConfirmation:
		var p EmailParam
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s param: %w", kind, err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}
