package transcript

import (
	"log/slog"

	"go.aimuz.me/voxtype/transcribe"
)

// maxTracked bounds how many delivered utterance ids are remembered.
const maxTracked = 256

// Filter gates transcription results: partials are tracked, and each
// utterance's final is forwarded once, normalized. It is not safe for
// concurrent use.
type Filter struct {
	partials  map[string]string
	delivered map[string]struct{}
	order     []string

	dropped uint64
}

// NewFilter creates a filter.
func NewFilter() *Filter {
	return &Filter{
		partials:  make(map[string]string),
		delivered: make(map[string]struct{}),
	}
}

// Process returns the text to deliver for r, if any. Partials never
// produce output.
func (f *Filter) Process(r transcribe.Result) (string, bool) {
	if !r.Final {
		if _, done := f.delivered[r.UtteranceID]; !done {
			f.partials[r.UtteranceID] = r.Text
		}
		return "", false
	}

	delete(f.partials, r.UtteranceID)
	if _, done := f.delivered[r.UtteranceID]; done {
		f.drop("duplicate final", r)
		return "", false
	}
	f.remember(r.UtteranceID)

	text := Normalize(r.Text)
	if text == "" {
		f.drop("empty final", r)
		return "", false
	}
	return text, true
}

// Partial returns the latest partial text for an utterance still in flight.
func (f *Filter) Partial(utteranceID string) (string, bool) {
	s, ok := f.partials[utteranceID]
	return s, ok
}

// Pending returns how many utterances have partials but no final.
func (f *Filter) Pending() int { return len(f.partials) }

// Dropped returns how many finals were suppressed.
func (f *Filter) Dropped() uint64 { return f.dropped }

// Reset forgets in-flight partials. Delivered ids are kept so a late final
// from a closed session is still recognized.
func (f *Filter) Reset() {
	clear(f.partials)
}

func (f *Filter) remember(id string) {
	f.delivered[id] = struct{}{}
	f.order = append(f.order, id)
	if len(f.order) > maxTracked {
		delete(f.delivered, f.order[0])
		f.order = f.order[1:]
	}
}

func (f *Filter) drop(reason string, r transcribe.Result) {
	f.dropped++
	slog.Debug("transcript dropped", "reason", reason, "utterance", r.UtteranceID, "count", f.dropped)
}
