package fields

import (
	"errors"
	"fmt"
)

var errEmptyTag = errors.New("field tag is required")

func duplicateTagError(tag string) error {
	return fmt.Errorf("duplicate field tag %s", tag)
}

func patternError(tag string, err error) error {
	return fmt.Errorf("invalid pattern for field %s: %w", tag, err)
}
