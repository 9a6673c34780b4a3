// Package devtools discovers callables an application exposes and makes
// them listable and invocable over RPC.
//
// The application puts values into a Namespace; Refresh scans it for
// callables whose names match the configured pattern (plus anything exposed
// explicitly), describes each one, and swaps in the new snapshot at once.
// List and Call always read a complete snapshot.
//
//	Namespace ──Refresh──→ snapshot{descriptors, handlers} ──List / Call
//	                                   ↑
//	                     Serve: devtools.list / call / refresh / getConfig
package devtools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/mineclover/iframe-remote/logging"
	"github.com/mineclover/iframe-remote/message"
	"github.com/mineclover/iframe-remote/rpc"
	"github.com/mineclover/iframe-remote/schema"
)

// DefaultPrefix marks namespace entries as devtools functions.
const DefaultPrefix = "__"

var ErrFunctionNotFound = errors.New("devtools: function not found")

// Config is what devtools.getConfig reports.
type Config struct {
	Prefix                string         `json:"functionPrefix,omitempty"`
	Pattern               string         `json:"functionPattern,omitempty"`
	IncludeNamespaceProps bool           `json:"includeNamespaceProps"`
	Settings              map[string]any `json:"settings,omitempty"`
}

type function struct {
	desc    schema.Function
	handler rpc.Handler
}

type snapshot struct {
	funcs map[string]*function
	list  []schema.Function // sorted by name
}

type Registry struct {
	ns        *Namespace
	prefix    string
	pattern   *regexp.Regexp
	matcher   func(name string) bool
	inherited bool
	settings  map[string]any
	logger    zerolog.Logger

	mu      sync.Mutex // guards exposed and serializes Refresh
	exposed map[string]bool

	snap atomic.Pointer[snapshot]
}

type Option func(*Registry)

// WithPrefix matches names starting with prefix. Defaults to "__".
func WithPrefix(prefix string) Option {
	return func(r *Registry) { r.prefix = prefix }
}

// WithPattern matches names against re instead of the prefix.
func WithPattern(re *regexp.Regexp) Option {
	return func(r *Registry) { r.pattern = re }
}

// WithMatcher matches names with fn, taking precedence over pattern and prefix.
func WithMatcher(fn func(name string) bool) Option {
	return func(r *Registry) { r.matcher = fn }
}

// WithInherited also scans entries inherited from parent namespaces.
func WithInherited(include bool) Option {
	return func(r *Registry) { r.inherited = include }
}

// WithConfig sets the free-form settings reported by devtools.getConfig.
func WithConfig(settings map[string]any) Option {
	return func(r *Registry) { r.settings = settings }
}

func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry builds a registry over ns and runs a first Refresh.
func NewRegistry(ns *Namespace, opts ...Option) *Registry {
	if ns == nil {
		ns = NewNamespace()
	}
	r := &Registry{
		ns:      ns,
		prefix:  DefaultPrefix,
		logger:  logging.For("devtools"),
		exposed: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.snap.Store(&snapshot{funcs: map[string]*function{}, list: []schema.Function{}})
	r.Refresh()
	return r
}

// Namespace returns the namespace the registry scans.
func (r *Registry) Namespace() *Namespace {
	return r.ns
}

func (r *Registry) match(name string) bool {
	switch {
	case r.matcher != nil:
		return r.matcher(name)
	case r.pattern != nil:
		return r.pattern.MatchString(name)
	default:
		return strings.HasPrefix(name, r.prefix)
	}
}

// Refresh rescans the namespace and replaces the snapshot. It returns the
// number of functions found.
func (r *Registry) Refresh() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	candidates := make(map[string]bool)
	for _, name := range r.ns.Names(r.inherited) {
		if r.match(name) {
			candidates[name] = true
		}
	}
	for name := range r.exposed {
		candidates[name] = true
	}

	next := &snapshot{funcs: make(map[string]*function, len(candidates))}
	for name := range candidates {
		entry, ok := r.ns.Get(name)
		if !ok {
			continue
		}
		fn, err := r.describe(name, entry)
		if err != nil {
			r.logger.Debug().Err(err).Str("name", name).Msg("skipped")
			continue
		}
		next.funcs[name] = fn
		next.list = append(next.list, fn.desc)
	}
	if next.list == nil {
		next.list = []schema.Function{}
	}
	sort.Slice(next.list, func(i, j int) bool { return next.list[i].Name < next.list[j].Name })

	r.snap.Store(next)
	r.logger.Debug().Int("functions", len(next.list)).Msg("refreshed")
	return len(next.list)
}

// describe builds the descriptor for a callable entry. Params come from
// valid metadata, else from the declared signature, else from reflection.
func (r *Registry) describe(name string, entry Entry) (*function, error) {
	v := reflect.ValueOf(entry.Value)
	if !v.IsValid() || v.Kind() != reflect.Func || v.IsNil() {
		return nil, fmt.Errorf("not callable")
	}
	handler, err := rpc.Adapt(entry.Value)
	if err != nil {
		return nil, err
	}

	kind := schema.KindSync
	if takesContext(v.Type()) {
		kind = schema.KindAsync
	}

	if entry.Metadata != nil {
		desc := *entry.Metadata
		desc.Name = name
		if desc.Kind == "" {
			desc.Kind = kind
		}
		if desc.Params == nil {
			desc.Params = []schema.Param{}
		}
		res := schema.ValidateFunction(desc)
		if res.Valid {
			return &function{desc: desc, handler: handler}, nil
		}
		r.logger.Warn().Str("name", name).Strs("errors", res.Errors).Msg("invalid metadata, inferring params")
	}

	desc := schema.Function{Name: name, Kind: kind}
	if params, ok := parseSignature(entry.Signature); ok {
		desc.Params = params
	} else {
		desc.Params = reflectParams(v.Type())
	}
	return &function{desc: desc, handler: handler}, nil
}

// List returns the descriptors of the current snapshot, sorted by name.
func (r *Registry) List() []schema.Function {
	list := r.snap.Load().list
	out := make([]schema.Function, len(list))
	copy(out, list)
	return out
}

// Lookup returns the descriptor of name in the current snapshot.
func (r *Registry) Lookup(name string) (schema.Function, bool) {
	fn, ok := r.snap.Load().funcs[name]
	if !ok {
		return schema.Function{}, false
	}
	return fn.desc, true
}

// Call invokes the named function with positional args. Args may be Go values
// or json.RawMessage. Errors are wrapped with the function name.
func (r *Registry) Call(ctx context.Context, name string, args ...any) (any, error) {
	fn, ok := r.snap.Load().funcs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFunctionNotFound, name)
	}
	raw := make([]json.RawMessage, 0, len(args))
	for i, arg := range args {
		b, err := message.Marshal(arg)
		if err != nil {
			return nil, fmt.Errorf("devtools: %s: argument %d: %w", name, i, err)
		}
		raw = append(raw, b)
	}
	result, err := fn.handler(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("devtools: %s: %w", name, err)
	}
	return result, nil
}

// Expose installs fn in the namespace under name, marks it as exposed so it
// is listed whatever the pattern, and refreshes.
func (r *Registry) Expose(name string, fn any, opts ...SetOption) error {
	if name == "" {
		return fmt.Errorf("devtools: name required")
	}
	if v := reflect.ValueOf(fn); !v.IsValid() || v.Kind() != reflect.Func || v.IsNil() {
		return fmt.Errorf("devtools: %s: %T is not a func", name, fn)
	}
	r.ns.Set(name, fn, opts...)
	r.mu.Lock()
	r.exposed[name] = true
	r.mu.Unlock()
	r.Refresh()
	return nil
}

// Unexpose removes an exposed function and refreshes.
func (r *Registry) Unexpose(name string) {
	r.mu.Lock()
	delete(r.exposed, name)
	r.mu.Unlock()
	r.ns.Delete(name)
	r.Refresh()
}

// Config reports the discovery settings.
func (r *Registry) Config() Config {
	cfg := Config{IncludeNamespaceProps: r.inherited, Settings: r.settings}
	switch {
	case r.matcher != nil:
	case r.pattern != nil:
		cfg.Pattern = r.pattern.String()
	default:
		cfg.Prefix = r.prefix
	}
	return cfg
}
