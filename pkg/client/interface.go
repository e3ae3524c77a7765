// Package client defines the contract shared by identification model backends.
package client

import "context"

// Request is one structured-output call against a multimodal model
type Request struct {
	Model    string
	Prompt   string
	Image    []byte
	MimeType string
	// Schema is the JSON schema of the expected response, used by backends that support it
	Schema []byte
}

// Generator returns the raw text a model produced for a request
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
	// Name identifies the backend in logs and results
	Name() string
}
