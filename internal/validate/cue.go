package validate

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/roach88/gunrelay/internal/graph"
)

//go:embed policy.cue
var defaultPolicy []byte

// CUEPolicy validates candidate graphs against a CUE schema.
// The schema must declare a "graph" field the put is unified with.
type CUEPolicy struct {
	mu     sync.Mutex // cue.Context is not safe for concurrent use
	ctx    *cue.Context
	schema cue.Value
}

var (
	_ Validator = (*CUEPolicy)(nil)
	_ Explainer = (*CUEPolicy)(nil)
)

// NewCUEPolicy compiles src. Empty src selects the built-in policy.
func NewCUEPolicy(src []byte) (*CUEPolicy, error) {
	if len(src) == 0 {
		src = defaultPolicy
	}
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename("policy.cue"))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile policy: %w", err)
	}
	schema := v.LookupPath(cue.ParsePath("graph"))
	if !schema.Exists() {
		return nil, fmt.Errorf("compile policy: missing \"graph\" field")
	}
	return &CUEPolicy{ctx: ctx, schema: schema}, nil
}

// LoadCUEPolicy reads and compiles the policy at path.
func LoadCUEPolicy(path string) (*CUEPolicy, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	return NewCUEPolicy(src)
}

// Validate implements Validator.
func (p *CUEPolicy) Validate(ctx context.Context, msg graph.Message) (bool, error) {
	reason, err := p.Explain(ctx, msg)
	if err != nil {
		return false, err
	}
	return reason == "", nil
}

// Explain implements Explainer.
func (p *CUEPolicy) Explain(ctx context.Context, msg graph.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := json.Marshal(msg.Put)
	if err != nil {
		return "", fmt.Errorf("encode candidate: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	candidate := p.ctx.CompileBytes(data, cue.Filename(msg.ID+".json"))
	if err := candidate.Err(); err != nil {
		return "", fmt.Errorf("compile candidate: %w", err)
	}
	if err := p.schema.Unify(candidate).Validate(cue.Concrete(true)); err != nil {
		return cueerrors.Details(err, nil), nil
	}
	return "", nil
}
