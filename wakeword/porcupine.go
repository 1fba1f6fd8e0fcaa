package wakeword

import (
	"fmt"

	porcupine "github.com/Picovoice/porcupine/binding/go/v3"
)

// Porcupine is an Engine backed by Picovoice Porcupine. Porcupine applies
// sensitivities itself and reports only the winning keyword, so scores are
// 1 for the detected keyword and 0 otherwise.
type Porcupine struct {
	accessKey string
	modelPath string

	handle *porcupine.Porcupine
	count  int
}

// NewPorcupine creates an engine. modelPath may be empty to use the bundled
// English model.
func NewPorcupine(accessKey, modelPath string) *Porcupine {
	return &Porcupine{accessKey: accessKey, modelPath: modelPath}
}

func (p *Porcupine) FrameLength() int { return porcupine.FrameLength }

func (p *Porcupine) SampleRate() int { return porcupine.SampleRate }

// Supports accepts built-in keywords by name and any keyword with a model path.
func (p *Porcupine) Supports(k Keyword) bool {
	if k.Path != "" {
		return true
	}
	return porcupine.BuiltInKeyword(k.Name).IsValid()
}

func (p *Porcupine) Load(keywords []Keyword) error {
	if err := p.Close(); err != nil {
		return err
	}

	h := &porcupine.Porcupine{
		AccessKey: p.accessKey,
		ModelPath: p.modelPath,
	}
	custom := keywords[0].Path != ""
	for _, k := range keywords {
		// Porcupine ignores built-ins once any model path is set, which
		// would shift keyword indices.
		if (k.Path != "") != custom {
			return fmt.Errorf("%w: cannot mix built-in and custom keywords", ErrInvalidKeyword)
		}
		if custom {
			h.KeywordPaths = append(h.KeywordPaths, k.Path)
		} else {
			h.BuiltInKeywords = append(h.BuiltInKeywords, porcupine.BuiltInKeyword(k.Name))
		}
		h.Sensitivities = append(h.Sensitivities, k.Sensitivity)
	}

	if err := h.Init(); err != nil {
		return fmt.Errorf("init porcupine: %w", err)
	}
	p.handle = h
	p.count = len(keywords)
	return nil
}

func (p *Porcupine) Process(pcm []int16) ([]float32, error) {
	if p.handle == nil {
		return nil, fmt.Errorf("porcupine not loaded")
	}
	idx, err := p.handle.Process(pcm)
	if err != nil {
		return nil, err
	}
	scores := make([]float32, p.count)
	if idx >= 0 && idx < p.count {
		scores[idx] = 1
	}
	return scores, nil
}

func (p *Porcupine) Close() error {
	if p.handle == nil {
		return nil
	}
	h := p.handle
	p.handle = nil
	p.count = 0
	return h.Delete()
}
