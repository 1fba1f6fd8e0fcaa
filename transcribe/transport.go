package transcribe

import (
	"context"
	"slices"
	"sync"
)

// Params are the connection parameters for one session.
type Params struct {
	APIKey      string
	SampleRate  int
	Encoding    string // "pcm_s16le"
	FormatTurns bool
	Language    string
	// Keyterms biases recognition toward product names and jargon.
	Keyterms []string
}

// DefaultParams returns the pipeline's wire format.
func DefaultParams() Params {
	return Params{
		SampleRate:  16000,
		Encoding:    "pcm_s16le",
		FormatTurns: true,
	}
}

// Conn is one open connection to a transcription service.
type Conn interface {
	// ReadEvent blocks for the next server event. A *ProtocolError leaves
	// the connection usable; any other error ends it.
	ReadEvent(ctx context.Context) (Event, error)
	// WriteAudio sends little-endian 16-bit mono PCM.
	WriteAudio(pcm []byte) error
	// Terminate asks the server to flush and send a termination notice.
	Terminate() error
	Close() error
}

// Transport opens connections to one transcription service.
type Transport interface {
	Name() string
	DisplayName() string
	Dial(ctx context.Context, p Params) (Conn, error)
}

// Registry holds the available transports.
type Registry struct {
	mu         sync.RWMutex
	transports map[string]Transport
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{transports: make(map[string]Transport)}
}

// Register adds a transport, replacing any with the same name.
func (r *Registry) Register(t Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports[t.Name()] = t
}

// Get returns a transport by name, or nil.
func (r *Registry) Get(name string) Transport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.transports[name]
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.transports))
	for name := range r.transports {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
