package codec

// Codec defines a simple interface for marshaling envelope frames.
// Implementations should be deterministic and safe for cross-process exchange.
type Codec interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Registry maps format/content type aliases to codecs.
type Registry struct{ byType map[string]Codec }

// NewRegistry constructs a registry preloaded with the JSON codec.
// CBOR can be added explicitly via Register(CBOR()).
func NewRegistry() *Registry {
	r := &Registry{byType: make(map[string]Codec)}
	r.Register(JSON())
	return r
}

// Register adds a codec.
func (r *Registry) Register(c Codec) { r.byType[c.ContentType()] = c }

// Get returns a codec by content type, or nil.
func (r *Registry) Get(contentType string) Codec { return r.byType[contentType] }

// ByName resolves a short format name ("cbor", "json") to a codec.
// Unknown names resolve to nil.
func ByName(name string) Codec {
	switch name {
	case "cbor", "application/cbor":
		c, err := CBOR()
		if err != nil {
			return nil
		}
		return c
	case "json", "application/json":
		return JSON()
	default:
		return nil
	}
}
