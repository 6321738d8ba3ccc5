package middleware

// Caching is a named placeholder in the middleware stack: every hook is the
// NoOp default, so it contributes no tools and an empty system-prompt
// segment. It adds no cache-control marker or annotation to the prompt and
// caches no responses.
type Caching struct {
	NoOp
}

// NewCaching builds the Caching middleware.
func NewCaching() *Caching {
	return &Caching{}
}

func (c *Caching) Name() string { return "caching" }
