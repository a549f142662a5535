package service

import "errors"

var (
	// ErrCorpusNotFound is returned for operations on a corpus that was
	// never created.
	ErrCorpusNotFound = errors.New("corpus not found")

	// ErrUnsupportedLanguage is returned when no tokenizer handles a source.
	ErrUnsupportedLanguage = errors.New("unsupported language")

	// ErrInvalidCorpusName rejects empty corpus names.
	ErrInvalidCorpusName = errors.New("invalid corpus name")
)
