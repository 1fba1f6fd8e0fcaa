package delivery

import (
	"context"

	"github.com/go-vgo/robotgo"
)

// Typer emits characters as keystrokes.
type Typer interface {
	Type(s string)
}

// RobotTyper types through robotgo.
type RobotTyper struct{}

func (RobotTyper) Type(s string) { robotgo.TypeStr(s) }

// TypeStrategy types the text character by character. Text is sent in
// chunks so a timeout stops it between chunks rather than mid-word.
type TypeStrategy struct {
	Typer Typer
	Chunk int // runes per chunk
}

// NewTypeStrategy creates a type strategy sending 16 runes at a time.
func NewTypeStrategy(t Typer) *TypeStrategy {
	return &TypeStrategy{Typer: t, Chunk: 16}
}

func (s *TypeStrategy) Name() string { return StrategyType }

func (s *TypeStrategy) Insert(ctx context.Context, text string, _ Target) error {
	runes := []rune(text)
	n := max(s.Chunk, 1)
	for i := 0; i < len(runes); i += n {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.Typer.Type(string(runes[i:min(i+n, len(runes))]))
	}
	return nil
}
