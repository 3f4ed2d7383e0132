package common

import (
	"context"
	"fmt"
	"io"

	"prepai/internal/errors"
)

// CreateInputFunc builds a command's input from the contents of its files.
type CreateInputFunc[Input any] func(contents []string) (Input, error)

// OperationFunc turns a command's input into the value that is written out.
type OperationFunc[Input, Output any] func(context.Context, Input) (Output, error)

// FileCommand describes a command that reads files, runs one operation and
// writes the formatted result.
type FileCommand[Input, Output any] struct {
	Logger      *errors.Logger
	Config      CommandConfig
	CreateInput CreateInputFunc[Input]
	Operation   OperationFunc[Input, Output]

	// Stdout overrides where output goes when no file is configured
	Stdout io.Writer
	// MaxFileSize rejects larger input files when positive
	MaxFileSize int64
}

// Run reads files, builds the input, runs the operation and handles output.
func (c FileCommand[Input, Output]) Run(ctx context.Context, files ...string) error {
	contents, err := NewFileProcessor(c.Logger).WithMaxSize(c.MaxFileSize).ValidateAndReadFiles(files...)
	if err != nil {
		return err
	}

	input, err := c.CreateInput(contents)
	if err != nil {
		return fmt.Errorf("failed to create input from file contents: %w", err)
	}

	result, err := c.Operation(ctx, input)
	if err != nil {
		return err
	}

	out := NewOutputHandler(c.Logger)
	if c.Stdout != nil {
		out.Stdout = c.Stdout
	}
	return out.HandleOutput(result, c.Config)
}
