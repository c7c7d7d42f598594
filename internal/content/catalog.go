package content

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"schedbot/internal/jobs"
	"schedbot/pkg/logx"
)

// ErrNoAsker is returned by Catalog.Ask when no producer can answer prompts.
var ErrNoAsker = errors.New("no producer answers prompts")

// Asker answers free-form prompts on demand.
type Asker interface {
	Ask(ctx context.Context, prompt string) (string, error)
}

// Catalog maps producer names to producers. Safe for concurrent use and
// replaced wholesale on config reload.
type Catalog struct {
	mu     sync.RWMutex
	items  map[string]jobs.Producer
	onFail func(name string, err error)
}

func NewCatalog() *Catalog {
	return &Catalog{items: map[string]jobs.Producer{}}
}

// Apply rebuilds the catalog from cfg. Existing producers are replaced, which
// also resets their breakers.
func (c *Catalog) Apply(cfg map[string]ProducerConfig, hc *http.Client, log logx.Logger) {
	c.mu.RLock()
	onFail := c.onFail
	c.mu.RUnlock()
	next := make(map[string]jobs.Producer, len(cfg))
	for name, pc := range cfg {
		cl := NewClient(name, pc, hc, log)
		cl.OnFailure(onFail)
		next[name] = cl
	}
	c.mu.Lock()
	c.items = next
	c.mu.Unlock()
}

// OnFailure is passed to every client built by later Apply calls.
func (c *Catalog) OnFailure(fn func(name string, err error)) {
	c.mu.Lock()
	c.onFail = fn
	c.mu.Unlock()
}

func (c *Catalog) Register(name string, p jobs.Producer) {
	c.mu.Lock()
	c.items[name] = p
	c.mu.Unlock()
}

func (c *Catalog) Lookup(name string) (jobs.Producer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.items[name]
	return p, ok
}

func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.items))
	for k := range c.items {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Bind fills cfg.Producer from the named producer. An empty name is a no-op.
func (c *Catalog) Bind(cfg *jobs.Config, name string) error {
	if name == "" {
		return nil
	}
	p, ok := c.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: unknown producer %q", jobs.ErrContentUnavailable, name)
	}
	cfg.Producer = p
	cfg.ProducerLabel = name
	return nil
}

// Ask sends prompt to the named producer. An empty name picks the only
// registered producer and fails when there are several.
func (c *Catalog) Ask(ctx context.Context, name, prompt string) (string, error) {
	if name == "" {
		names := c.Names()
		if len(names) != 1 {
			return "", fmt.Errorf("%w: %d producers configured, name one", ErrNoAsker, len(names))
		}
		name = names[0]
	}
	p, ok := c.Lookup(name)
	if !ok {
		return "", fmt.Errorf("%w: unknown producer %q", ErrNoAsker, name)
	}
	a, ok := p.(Asker)
	if !ok {
		return "", fmt.Errorf("%w: producer %q is not a generator", ErrNoAsker, name)
	}
	return a.Ask(ctx, prompt)
}
