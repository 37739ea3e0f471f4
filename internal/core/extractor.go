package core

import "context"

// TextExtractor turns a stored source file into plain text.
// fileName is used to classify the file; data holds its raw bytes.
type TextExtractor interface {
	Extract(ctx context.Context, fileName string, data []byte) (string, error)
}
