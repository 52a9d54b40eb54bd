package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"bakker-go/internal/bk"
	"bakker-go/internal/config"
	"bakker-go/internal/pkg/bkerrors"
)

// identifierError rewords lookup failures of a restore identifier. Failures
// after the checkpoint was picked, such as a missing blob, pass through.
func identifierError(id string, err error) error {
	var lookup *bk.LookupError
	if !errors.As(err, &lookup) {
		return err
	}
	switch {
	case errors.Is(err, bkerrors.ErrAmbiguousMatch):
		return fmt.Errorf("multiple checkpoints matching identifier %s: %w", id, err)
	case errors.Is(err, bkerrors.ErrNotFound):
		return fmt.Errorf("no checkpoints matching identifier %s: %w", id, err)
	}
	return err
}

// report writes err to w, followed by how to fix incomplete configuration.
func report(w io.Writer, err error) {
	color.New(color.FgRed).Fprintf(w, "Error: %v\n", err)

	switch {
	case errors.Is(err, config.ErrNoDefaultStorage), errors.Is(err, config.ErrUnknownStorage):
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Set default storage with:")
		fmt.Fprintf(w, "\tbakker config set %s <storage>\n", config.KeyStorageDefault)
		fmt.Fprintf(w, "Available storages: %s\n", strings.Join(config.StorageChoices, ", "))
	case errors.Is(err, config.ErrNoBackupFolder):
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Set default backup directory with:")
		fmt.Fprintf(w, "\tbakker config set %s <path>\n", config.KeyStorageFSPath)
	}
}
