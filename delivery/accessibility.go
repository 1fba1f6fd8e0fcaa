package delivery

import "context"

// AccessibilityStrategy sets the focused element's selected text through
// the platform accessibility API, replacing any selection.
type AccessibilityStrategy struct{}

func (AccessibilityStrategy) Name() string { return StrategyAccessibility }

func (AccessibilityStrategy) Insert(ctx context.Context, text string, _ Target) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return axInsert(text)
}
