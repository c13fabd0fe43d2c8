// Package documents stores job artifacts in object storage and answers
// presence questions used by workflow preconditions.
package documents

import (
	"errors"
	"io"
	"time"
)

// Type classifies an artifact.
type Type string

const (
	TypeMeasurementDrawing Type = "measurement_drawing"
	TypeTechnicalDrawing   Type = "technical_drawing"
	TypeContract           Type = "contract"
	TypePhoto              Type = "photo"
	TypeOther              Type = "other"
)

// Valid reports whether t is a known type.
func (t Type) Valid() bool {
	switch t {
	case TypeMeasurementDrawing, TypeTechnicalDrawing, TypeContract, TypePhoto, TypeOther:
		return true
	}
	return false
}

// RoleScoped reports whether documents of type t belong to a single job role.
func (t Type) RoleScoped() bool {
	return t == TypeMeasurementDrawing || t == TypeTechnicalDrawing
}

// Document is the stored metadata of an uploaded file.
type Document struct {
	ID          string    `json:"id"`
	JobID       string    `json:"job_id"`
	Type        Type      `json:"type"`
	RoleID      string    `json:"role_id,omitempty"`
	Description string    `json:"description,omitempty"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	ObjectKey   string    `json:"-"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// UploadInput carries the file and its classification.
type UploadInput struct {
	JobID       string
	Type        Type
	RoleID      string
	Description string
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// RoleRef names a job role whose drawings are checked.
type RoleRef struct {
	ID   string
	Name string
}

// ErrEmptyFile indicates an upload without content.
var ErrEmptyFile = errors.New("documents: file is empty")
