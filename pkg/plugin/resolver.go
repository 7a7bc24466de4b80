package plugin

import (
	"errors"
	"fmt"
	"path/filepath"
	goplugin "plugin"
	"strings"
	"sync"
)

// Constructor builds a plugin instance inside its context. The returned
// instance may implement any of the hook interfaces.
type Constructor func(ctx *Context) (any, error)

// Resolver maps a plugin folder and its manifest to a constructor. It
// returns ErrEntryPointNotFound when it does not know the plugin.
type Resolver interface {
	Resolve(folder string, manifest *Manifest) (Constructor, error)
}

// FactoryResolver resolves constructors registered in-process.
type FactoryResolver struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewFactoryResolver returns an empty resolver.
func NewFactoryResolver() *FactoryResolver {
	return &FactoryResolver{ctors: make(map[string]Constructor)}
}

// Register binds ctor to category and name.
func (r *FactoryResolver) Register(category, name string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctors == nil {
		r.ctors = make(map[string]Constructor)
	}
	r.ctors[Key(category, name)] = ctor
}

// Resolve implements Resolver.
func (r *FactoryResolver) Resolve(_ string, manifest *Manifest) (Constructor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctor, ok := r.ctors[manifest.Key()]
	if !ok || ctor == nil {
		return nil, fmt.Errorf("%w: %s", ErrEntryPointNotFound, manifest.Key())
	}
	return ctor, nil
}

// DefaultSharedObject is opened when a manifest's main is not a shared
// object.
const DefaultSharedObject = "plugin.so"

// ConstructorSymbol is the symbol looked up in a shared object.
const ConstructorSymbol = "New"

// GoPluginResolver opens Go plugins built with -buildmode=plugin.
type GoPluginResolver struct{}

// Resolve opens <folder>/<main> and looks up the New symbol. New may be a
// func(*Context) (any, error), a func(*Context) any or a *Constructor.
func (GoPluginResolver) Resolve(folder string, manifest *Manifest) (Constructor, error) {
	main := manifest.Main
	if !strings.HasSuffix(main, ".so") {
		main = DefaultSharedObject
	}
	path := filepath.Join(folder, filepath.Clean("/"+main))
	so, err := goplugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrEntryPointNotFound, path, err)
	}
	symbol, err := so.Lookup(ConstructorSymbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEntryPointNotFound, path, err)
	}
	switch fn := symbol.(type) {
	case func(*Context) (any, error):
		return fn, nil
	case func(*Context) any:
		return func(ctx *Context) (any, error) { return fn(ctx), nil }, nil
	case *Constructor:
		if fn == nil || *fn == nil {
			return nil, fmt.Errorf("%w: %s: symbol %s is nil", ErrEntryPointNotFound, path, ConstructorSymbol)
		}
		return *fn, nil
	default:
		return nil, fmt.Errorf("%w: %s: symbol %s has type %T", ErrEntryPointNotFound, path, ConstructorSymbol, symbol)
	}
}

// ChainResolver asks each resolver in turn and returns the first match.
type ChainResolver []Resolver

// Resolve implements Resolver. Errors other than ErrEntryPointNotFound stop
// the chain.
func (c ChainResolver) Resolve(folder string, manifest *Manifest) (Constructor, error) {
	var errs []error
	for _, r := range c {
		if r == nil {
			continue
		}
		ctor, err := r.Resolve(folder, manifest)
		if err == nil {
			return ctor, nil
		}
		if !errors.Is(err, ErrEntryPointNotFound) {
			return nil, err
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEntryPointNotFound, manifest.Key())
	}
	return nil, errors.Join(errs...)
}
