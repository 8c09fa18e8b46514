package service

import "context"

// ObjectStore uploads binary content and returns a URL that can be stored on a
// message or conversation.
type ObjectStore interface {
	Upload(ctx context.Context, data []byte, pathHint string) (string, error)
	Delete(ctx context.Context, url string) error
}
