package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/balaji-balu/converge/pkg/model"
)

// Local is an in-memory provider. It backs the daemon's local mode and the
// test suites, and supports fault injection plus out-of-band mutation for
// drift scenarios. Resources are keyed by record ID so a Read works even
// before the caller has learned the external ID.
type Local struct {
	mu        sync.Mutex
	resources map[string]*localResource
	faults    map[string]*fault
}

type localResource struct {
	externalID string
	attrs      model.Attributes
}

type fault struct {
	err   error
	times int // negative means always
}

func NewLocal() *Local {
	return &Local{
		resources: make(map[string]*localResource),
		faults:    make(map[string]*fault),
	}
}

// FailWith injects an error for the next `times` calls of op ("create",
// "read", "update", "delete") on the given kind. times < 0 fails forever.
func (l *Local) FailWith(kind model.ResourceKind, op string, err error, times int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.faults[string(kind)+":"+op] = &fault{err: err, times: times}
}

func (l *Local) checkFault(kind model.ResourceKind, op string) error {
	f, ok := l.faults[string(kind)+":"+op]
	if !ok || f.times == 0 {
		return nil
	}
	if f.times > 0 {
		f.times--
	}
	return f.err
}

func (l *Local) Create(ctx context.Context, rec *model.ResourceRecord) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkFault(rec.Kind, "create"); err != nil {
		return Result{}, err
	}
	res := &localResource{
		externalID: fmt.Sprintf("%s-%s", rec.Kind, uuid.NewString()[:8]),
		attrs:      rec.DesiredAttributes(),
	}
	l.resources[rec.ID] = res
	return Result{ExternalID: res.externalID, Attributes: cloneAttrs(res.attrs), Found: true}, nil
}

func (l *Local) Read(ctx context.Context, rec *model.ResourceRecord) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkFault(rec.Kind, "read"); err != nil {
		return Result{}, err
	}
	res, ok := l.resources[rec.ID]
	if !ok {
		return Result{Found: false}, nil
	}
	return Result{ExternalID: res.externalID, Attributes: cloneAttrs(res.attrs), Found: true}, nil
}

func (l *Local) Update(ctx context.Context, rec *model.ResourceRecord) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkFault(rec.Kind, "update"); err != nil {
		return Result{}, err
	}
	res, ok := l.resources[rec.ID]
	if !ok {
		return Result{}, &ProviderError{Code: "not-found", Message: rec.ID + " does not exist", Retryable: false}
	}
	res.attrs = rec.DesiredAttributes()
	return Result{ExternalID: res.externalID, Attributes: cloneAttrs(res.attrs), Found: true}, nil
}

func (l *Local) Delete(ctx context.Context, rec *model.ResourceRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkFault(rec.Kind, "delete"); err != nil {
		return err
	}
	delete(l.resources, rec.ID)
	return nil
}

// SetAttribute mutates a live resource out-of-band, simulating an operator
// change behind the controller's back.
func (l *Local) SetAttribute(recordID, key, value string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if res, ok := l.resources[recordID]; ok {
		res.attrs[key] = value
	}
}

// Drop removes a resource out-of-band without going through Delete.
func (l *Local) Drop(recordID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.resources, recordID)
}

// Exists reports whether a resource is currently provisioned.
func (l *Local) Exists(recordID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.resources[recordID]
	return ok
}

func cloneAttrs(in model.Attributes) model.Attributes {
	out := make(model.Attributes, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
