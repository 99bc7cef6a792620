package chat

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/vincent-petithory/dataurl"
)

const (
	// DefaultMaxFileSize is the largest attachment a room accepts.
	DefaultMaxFileSize int64 = 5 * 1024 * 1024

	defaultFileName = "attachment"
	defaultFileType = "application/octet-stream"
)

var (
	// ErrInvalidFile reports a malformed inline file payload.
	ErrInvalidFile = errors.New("invalid file payload")
	// ErrFileTooLarge reports a file above the configured ceiling.
	ErrFileTooLarge = errors.New("file is too large")
)

// FileUpload is the client's description of an inline file.
type FileUpload struct {
	Name string  `json:"name"`
	Type string  `json:"type"`
	Size flexInt `json:"size"`
	Data string  `json:"data"`
}

// inlineFile is what survives sanitization and must hold before decoding.
type inlineFile struct {
	Name string `validate:"required"`
	Type string `validate:"required"`
	Data string `validate:"required,startswith=data:,min=30"`
}

// buildAttachment sanitizes and validates upload, decodes the data URI and
// enforces maxSize against both the declared and the measured size.
func buildAttachment(v *validator.Validate, upload FileUpload, maxSize int64) (FileAttachment, error) {
	file := inlineFile{
		Name: sanitizeOr(upload.Name, MaxFileNameLength, defaultFileName),
		Type: sanitizeOr(upload.Type, MaxMIMELength, defaultFileType),
		Data: upload.Data,
	}
	if err := v.Struct(file); err != nil {
		return FileAttachment{}, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}

	declared := max(upload.Size.Value, 0)
	if declared > maxSize {
		return FileAttachment{}, fmt.Errorf("declared %d bytes: %w", declared, ErrFileTooLarge)
	}

	content, err := decodeDataURI(file.Data, maxSize)
	if err != nil {
		return FileAttachment{}, err
	}

	mime := file.Type
	if mime == defaultFileType {
		mime = Sanitize(mimetype.Detect(content).String(), MaxMIMELength)
	}

	return FileAttachment{
		Name: file.Name,
		Type: mime,
		Size: int64(len(content)),
		Data: file.Data,
	}, nil
}

// decodeDataURI returns the bytes carried by an RFC 2397 data URI. Base64
// payloads whose encoded length already implies more than maxSize bytes are
// refused before decoding.
func decodeDataURI(uri string, maxSize int64) ([]byte, error) {
	header, payload, ok := strings.Cut(uri, ",")
	if ok && strings.HasSuffix(strings.ToLower(header), ";base64") {
		if int64(len(strings.TrimRight(payload, "=")))*3/4 > maxSize {
			return nil, fmt.Errorf("encoded payload: %w", ErrFileTooLarge)
		}
	}

	du, err := dataurl.DecodeString(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}
	if int64(len(du.Data)) > maxSize {
		return nil, fmt.Errorf("decoded payload: %w", ErrFileTooLarge)
	}
	return du.Data, nil
}
