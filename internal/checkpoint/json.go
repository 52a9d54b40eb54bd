package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"

	"bakker-go/internal/pkg/bkerrors"
	"bakker-go/internal/tree"
)

type document struct {
	Root *tree.Node `json:"root"`
	Time string     `json:"time"`
	Name *string    `json:"name"`
}

// MarshalJSON encodes the checkpoint document. An empty name is written as
// null.
func (c *Checkpoint) MarshalJSON() ([]byte, error) {
	doc := document{Root: c.Root, Time: FormatTime(c.Time)}
	if c.Name != "" {
		doc.Name = &c.Name
	}
	return json.Marshal(doc)
}

// Decode parses a stored checkpoint document. Every failure, including
// malformed JSON, is an ErrFormat.
func Decode(data []byte) (*Checkpoint, error) {
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		if errors.Is(err, bkerrors.ErrFormat) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: decoding checkpoint: %w", bkerrors.ErrFormat, err)
	}
	return &cp, nil
}

// UnmarshalJSON decodes a checkpoint document. Structural problems are
// reported as ErrFormat.
func (c *Checkpoint) UnmarshalJSON(data []byte) error {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: decoding checkpoint: %w", bkerrors.ErrFormat, err)
	}
	if doc.Root == nil {
		return fmt.Errorf("%w: checkpoint has no root", bkerrors.ErrFormat)
	}
	t, err := ParseTime(doc.Time)
	if err != nil {
		return err
	}
	var name string
	if doc.Name != nil {
		name = *doc.Name
		if name == "" || !namePattern.MatchString(name) {
			return fmt.Errorf("%w: invalid checkpoint name %q", bkerrors.ErrFormat, name)
		}
	}
	*c = Checkpoint{Root: doc.Root, Time: t, Name: name}
	return nil
}
