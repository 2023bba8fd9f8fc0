package generation

import "context"

// Request is the normalized per-slot call passed to any provider. The
// credential is injected by the coordinator from the pool; prompt text
// arrives fully built from upstream.
type Request struct {
	Prompt      string
	SourceURL   string
	SourceData  []byte
	SourceMIME  string
	Quantity    int
	Seed        int
	Secret      string
	RequestID   string
	SlotIndex   int
	CallbackURL string
}

// Artifact is one generated image. Providers return bytes when they download
// the result themselves; URL is kept for provenance.
type Artifact struct {
	Data   []byte
	URL    string
	MIME   string
	Width  int
	Height int
}

// Provider performs one synchronous generation attempt.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (*Artifact, error)
}

// QueuedProvider delegates the whole job to an external queue and reports
// completion through the webhook gateway. Submit returns the external task
// id the callback will reference.
type QueuedProvider interface {
	Provider
	Submit(ctx context.Context, req Request) (string, error)
}

// Registry maps configured provider names to implementations.
type Registry map[string]Provider

// Lookup returns the provider for name, falling back to fallback when the
// name is unknown.
func (r Registry) Lookup(name, fallback string) (Provider, string) {
	if p, ok := r[name]; ok {
		return p, name
	}
	if p, ok := r[fallback]; ok {
		return p, fallback
	}
	return nil, name
}
