package utils

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
)

// MaxUploadMemory is the part of a multipart upload kept in memory; the rest
// spills to temporary files.
const MaxUploadMemory = 32 << 20

type MultipartResult struct {
	File       []byte
	Properties Properties
}

// Properties are the plain form values that accompany an upload.
type Properties struct {
	Layer             string
	Method            string
	MinAngle          string
	Tolerance         string
	Format            string
	FeatureCollection string
}

// ReadMultiPartForm reads the upload stored under fileKey together with the
// known form values. A missing file is not an error; File is then nil.
func ReadMultiPartForm(r *http.Request, fileKey string) (MultipartResult, error) {
	var result MultipartResult
	if err := r.ParseMultipartForm(MaxUploadMemory); err != nil {
		return result, fmt.Errorf("failed to parse multipart form: %w", err)
	}

	var fileHeader *multipart.FileHeader
	if headers := r.MultipartForm.File[fileKey]; len(headers) > 0 {
		fileHeader = headers[0]
	}

	for key, value := range r.MultipartForm.Value {
		if len(value) == 0 {
			continue
		}
		switch key {
		case "layer":
			result.Properties.Layer = value[0]
		case "method":
			result.Properties.Method = value[0]
		case "minAngle":
			result.Properties.MinAngle = value[0]
		case "tolerance":
			result.Properties.Tolerance = value[0]
		case "format":
			result.Properties.Format = value[0]
		case "featureCollection":
			result.Properties.FeatureCollection = value[0]
		}
	}

	if fileHeader != nil {
		file, err := fileHeader.Open()
		if err != nil {
			return result, fmt.Errorf("failed to open upload: %w", err)
		}
		defer file.Close()

		result.File, err = io.ReadAll(file)
		if err != nil {
			return result, fmt.Errorf("failed to read upload: %w", err)
		}
	}

	return result, nil
}
