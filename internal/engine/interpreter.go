package engine

// Value is an opaque engine-side value. Only the Interpreter that produced it
// knows its concrete type.
type Value any

// Interpreter is the engine surface driven by Runtime and Bridge. It is not
// safe for concurrent use; every call is made while holding the runtime's
// access token.
type Interpreter interface {
	Start() error
	PrependSearchPath(dir string) error
	Evict(modules ...string)

	Import(module string) (Value, error)
	Lookup(module Value, name string) (Value, error)
	Instantiate(factory Value) (Value, error)
	Invoke(instance Value, method string, args ...string) (Value, error)
	Encode(v Value) ([]byte, error)

	Close()
}
