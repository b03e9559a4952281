package document

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
)

// Principal is the identity an unprivileged store acts for.
type Principal struct {
	UID    string         `json:"uid"`
	Claims map[string]any `json:"claims,omitempty"`
}

type principalKey struct{}

// ContextWithPrincipal attaches the calling principal to ctx. Scoped stores
// prefer it over the principal they were built with.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal attached by ContextWithPrincipal.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Rule holds the CEL expressions guarding one collection. Each expression sees
//
//	request.auth.uid, request.auth.claims, request.data (writes only)
//	resource.id, resource.data (the stored document; empty on create)
//
// and must evaluate to a bool. An empty expression denies.
type Rule struct {
	Read  string `mapstructure:"read" json:"read"`
	Write string `mapstructure:"write" json:"write"`
}

// Rules compiles and caches CEL programs for per-collection access rules.
type Rules struct {
	env      *cel.Env
	byColl   map[string]Rule
	programs sync.Map // expression -> cel.Program
}

// NewRules builds a rule set. Every expression is compiled eagerly so a typo
// fails at startup instead of on the first request.
func NewRules(byCollection map[string]Rule) (*Rules, error) {
	env, err := cel.NewEnv(
		cel.Variable("request", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("resource", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, err
	}
	r := &Rules{env: env, byColl: map[string]Rule{}}
	for name, rule := range byCollection {
		r.byColl[name] = rule
		for _, expr := range []string{rule.Read, rule.Write} {
			if expr == "" {
				continue
			}
			if _, err := r.program(expr); err != nil {
				return nil, fmt.Errorf("rules for %s: %w", name, err)
			}
		}
	}
	return r, nil
}

func (r *Rules) program(expr string) (cel.Program, error) {
	if cached, ok := r.programs.Load(expr); ok {
		return cached.(cel.Program), nil
	}
	ast, issues := r.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile %q: %w", expr, issues.Err())
	}
	prg, err := r.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program %q: %w", expr, err)
	}
	r.programs.Store(expr, prg)
	return prg, nil
}

func (r *Rules) allow(expr string, vars map[string]any) (bool, error) {
	if expr == "" {
		return false, nil
	}
	prg, err := r.program(expr)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("eval %q: %w", expr, err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("rule %q returned %T", expr, out.Value())
	}
	return allowed, nil
}

// Scoped is the unprivileged Store: the same query surface as the wrapped
// store, with every read and write checked against the collection rules for
// a principal. A query returning any document the principal may not read
// fails as a whole, so a denied result is never silently narrowed.
type Scoped struct {
	inner     Store
	rules     *Rules
	principal Principal
}

// NewScoped wraps inner for principal. A principal carried by the request
// context takes precedence.
func NewScoped(inner Store, rules *Rules, principal Principal) *Scoped {
	return &Scoped{inner: inner, rules: rules, principal: principal}
}

// As returns a copy of s acting for another principal.
func (s *Scoped) As(principal Principal) *Scoped {
	return &Scoped{inner: s.inner, rules: s.rules, principal: principal}
}

// Run implements Store.
func (s *Scoped) Run(ctx context.Context, q Query) ([]Snapshot, error) {
	snaps, err := s.inner.Run(ctx, q)
	if err != nil {
		return nil, err
	}
	for _, snap := range snaps {
		if err := s.checkRead(ctx, snap); err != nil {
			return nil, err
		}
	}
	return snaps, nil
}

// Get implements Store.
func (s *Scoped) Get(ctx context.Context, ref DocumentRef) (Snapshot, error) {
	snap, err := s.inner.Get(ctx, ref)
	if err != nil {
		return Snapshot{}, err
	}
	if err := s.checkRead(ctx, snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Set implements Store.
func (s *Scoped) Set(ctx context.Context, ref DocumentRef, data map[string]any) error {
	if err := s.checkWrite(ctx, ref, data); err != nil {
		return err
	}
	return s.inner.Set(ctx, ref, data)
}

// Update implements Store.
func (s *Scoped) Update(ctx context.Context, ref DocumentRef, data map[string]any) error {
	if err := s.checkWrite(ctx, ref, data); err != nil {
		return err
	}
	return s.inner.Update(ctx, ref, data)
}

// Delete implements Store.
func (s *Scoped) Delete(ctx context.Context, ref DocumentRef) error {
	if err := s.checkWrite(ctx, ref, nil); err != nil {
		return err
	}
	return s.inner.Delete(ctx, ref)
}

// Add implements Store.
func (s *Scoped) Add(ctx context.Context, collection CollectionRef, data map[string]any) (DocumentRef, error) {
	if err := s.evalWrite(ctx, collection.Doc(""), Snapshot{}, data); err != nil {
		return DocumentRef{}, err
	}
	return s.inner.Add(ctx, collection, data)
}

func (s *Scoped) checkRead(ctx context.Context, snap Snapshot) error {
	rule := s.rules.byColl[snap.Ref.Collection]
	allowed, err := s.rules.allow(rule.Read, map[string]any{
		"request":  s.request(ctx, nil),
		"resource": resource(snap),
	})
	if err != nil {
		// a rule that cannot be evaluated denies
		return storeError("read", snap.Ref.Collection, fmt.Errorf("%s: %w: %v", snap.Ref, ErrPermissionDenied, err))
	}
	if !allowed {
		return storeError("read", snap.Ref.Collection, fmt.Errorf("%s: %w", snap.Ref, ErrPermissionDenied))
	}
	return nil
}

func (s *Scoped) checkWrite(ctx context.Context, ref DocumentRef, data map[string]any) error {
	current, err := s.inner.Get(ctx, ref)
	if err != nil && !isNotFound(err) {
		return err
	}
	return s.evalWrite(ctx, ref, current, data)
}

func (s *Scoped) evalWrite(ctx context.Context, ref DocumentRef, current Snapshot, data map[string]any) error {
	rule := s.rules.byColl[ref.Collection]
	if current.Ref.ID == "" {
		current.Ref = ref
	}
	allowed, err := s.rules.allow(rule.Write, map[string]any{
		"request":  s.request(ctx, data),
		"resource": resource(current),
	})
	if err != nil {
		return storeError("write", ref.Collection, fmt.Errorf("%s: %w: %v", ref, ErrPermissionDenied, err))
	}
	if !allowed {
		return storeError("write", ref.Collection, fmt.Errorf("%s: %w", ref, ErrPermissionDenied))
	}
	return nil
}

func (s *Scoped) request(ctx context.Context, data map[string]any) map[string]any {
	principal := s.principal
	if p, ok := PrincipalFromContext(ctx); ok {
		principal = p
	}
	claims := principal.Claims
	if claims == nil {
		claims = map[string]any{}
	}
	if data == nil {
		data = map[string]any{}
	}
	return map[string]any{
		"auth": map[string]any{"uid": principal.UID, "claims": claims},
		"data": ruleValues(data),
	}
}

func resource(snap Snapshot) map[string]any {
	data := snap.Fields
	if data == nil {
		data = map[string]any{}
	}
	return map[string]any{"id": snap.Ref.ID, "data": ruleValues(data)}
}

// ruleValues drops values CEL cannot represent (sentinels, wire timestamps)
// down to plain strings so rules can still compare them.
func ruleValues(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		switch t := scalar(v).(type) {
		case map[string]any:
			out[k] = ruleValues(t)
		case time.Time:
			out[k] = t.Format(time.RFC3339Nano)
		case nil, bool, float64, string, []any:
			out[k] = t
		default:
			out[k] = fmt.Sprint(t)
		}
	}
	return out
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
