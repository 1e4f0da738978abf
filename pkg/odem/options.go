package odem

// Defaults applied by DefaultOptions and by New for zero fields.
const (
	DefaultPrefix            = "hitchy-odem"
	DefaultMaxCreateAttempts = 100
	DefaultHighWaterMark     = 16
	DefaultBackend           = "kv"
)

// RedactedValue replaces secrets in option snapshots.
const RedactedValue = "provided, but hidden"

// Options customizes a KVAdapter.
type Options struct {
	// Prefix scopes every key of the adapter. It is normalized with
	// NormalizePrefix; an empty prefix disables scoping.
	Prefix string

	// Backend names the store kind for logs and traces (etcd, redis, ...).
	Backend string

	// Client carries the connection settings of the backend. They are only
	// exposed through Options() and never interpreted by the adapter.
	Client map[string]any

	// Credentials used for connecting. Never exposed.
	Credentials any

	// MaxCreateAttempts bounds the UUIDs tried by a single Create call.
	MaxCreateAttempts int

	// Codec encodes record values. Defaults to JSONCodec.
	Codec Codec

	// HighWaterMark is the number of keys a KeyStream buffers ahead of its
	// consumer.
	HighWaterMark int
}

// DefaultOptions returns the options used when nothing is customized.
func DefaultOptions() Options {
	return Options{
		Prefix:            DefaultPrefix,
		Backend:           DefaultBackend,
		MaxCreateAttempts: DefaultMaxCreateAttempts,
		Codec:             JSONCodec{},
		HighWaterMark:     DefaultHighWaterMark,
	}
}

// normalized fills zero fields from DefaultOptions, except Prefix which is
// taken as given.
func (o Options) normalized() Options {
	defaults := DefaultOptions()
	o.Prefix = NormalizePrefix(o.Prefix)
	if o.Backend == "" {
		o.Backend = defaults.Backend
	}
	if o.MaxCreateAttempts <= 0 {
		o.MaxCreateAttempts = defaults.MaxCreateAttempts
	}
	if o.Codec == nil {
		o.Codec = defaults.Codec
	}
	if o.HighWaterMark <= 0 {
		o.HighWaterMark = defaults.HighWaterMark
	}
	return o
}

// snapshot flattens the options into a map suitable for introspection.
// Connection settings are merged at top level; credentials are redacted
// wherever they appear.
func (o Options) snapshot() map[string]any {
	out := make(map[string]any, len(o.Client)+5)
	for name, value := range o.Client {
		out[name] = value
	}
	out["prefix"] = o.Prefix
	out["backend"] = o.Backend
	out["maxCreateAttempts"] = o.MaxCreateAttempts
	out["highWaterMark"] = o.HighWaterMark
	if o.Credentials != nil {
		out["credentials"] = o.Credentials
	}
	if _, ok := out["credentials"]; ok {
		out["credentials"] = RedactedValue
	}
	return out
}
