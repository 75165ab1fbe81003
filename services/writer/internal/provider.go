package internal

// Codec isolates a provider's wire format from the HTTP plumbing in
// Generator. Implementations must be safe for concurrent use.
type Codec interface {
	// Name identifies the provider in logs and metrics.
	Name() string

	// Encode wraps a prompt in the provider's request envelope.
	Encode(prompt string) ([]byte, error)

	// Decode extracts the generated text from a response body.
	Decode(body []byte) (string, error)
}
