package references

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"golang.org/x/sync/errgroup"

	"imagepipeline/core"
)

// countingReleaser records how often and with what it was called.
type countingReleaser struct {
	calls  atomic.Int32
	last   atomic.Value
	result error
}

func (c *countingReleaser) Release(v string) error {
	c.calls.Add(1)
	c.last.Store(v)
	return c.result
}

func TestNewSharedReference(t *testing.T) {
	rel := &countingReleaser{}
	ref, err := NewSharedReference("payload", rel)
	if err != nil {
		t.Fatalf("NewSharedReference() unexpected error: %v", err)
	}
	if got := ref.RefCount(); got != 1 {
		t.Errorf("RefCount() = %d, want 1", got)
	}
	if !ref.IsValid() {
		t.Error("IsValid() = false, want true for new reference")
	}
	if got := ref.Get(); got != "payload" {
		t.Errorf("Get() = %q, want %q", got, "payload")
	}
}

func TestNewSharedReference_NilReleaser(t *testing.T) {
	_, err := NewSharedReference[string]("x", nil)
	if !errors.Is(err, ErrNilReleaser) {
		t.Errorf("NewSharedReference() error = %v, want ErrNilReleaser", err)
	}
}

func TestSharedReference_CountingAndRelease(t *testing.T) {
	rel := &countingReleaser{}
	ref, _ := NewSharedReference("payload", rel)

	if err := ref.AddReference(); err != nil {
		t.Fatalf("AddReference() unexpected error: %v", err)
	}
	if got := ref.RefCount(); got != 2 {
		t.Errorf("RefCount() = %d, want 2", got)
	}

	if err := ref.DeleteReference(); err != nil {
		t.Fatalf("DeleteReference() unexpected error: %v", err)
	}
	if got := rel.calls.Load(); got != 0 {
		t.Errorf("releaser calls = %d, want 0 before count reaches zero", got)
	}

	if err := ref.DeleteReference(); err != nil {
		t.Fatalf("DeleteReference() unexpected error: %v", err)
	}
	if got := rel.calls.Load(); got != 1 {
		t.Errorf("releaser calls = %d, want 1", got)
	}
	if got := rel.last.Load(); got != "payload" {
		t.Errorf("released value = %v, want %q", got, "payload")
	}
	if ref.IsValid() {
		t.Error("IsValid() = true after release, want false")
	}
	if got := ref.Get(); got != "" {
		t.Errorf("Get() after release = %q, want zero value", got)
	}
}

func TestSharedReference_DeadReferenceFails(t *testing.T) {
	tests := []struct {
		name string
		op   func(*SharedReference[string]) error
	}{
		{name: "add", op: (*SharedReference[string]).AddReference},
		{name: "delete", op: (*SharedReference[string]).DeleteReference},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rel := &countingReleaser{}
			ref, _ := NewSharedReference("payload", rel)
			_ = ref.DeleteReference()

			err := tt.op(ref)
			if !errors.Is(err, ErrReferenceReleased) {
				t.Errorf("error = %v, want ErrReferenceReleased", err)
			}
			var cv *ContractViolation
			if !errors.As(err, &cv) {
				t.Errorf("error type = %T, want *ContractViolation", err)
			}
			if got := rel.calls.Load(); got != 1 {
				t.Errorf("releaser calls = %d, want 1", got)
			}
		})
	}
}

func TestIsValidSharedReference_Nil(t *testing.T) {
	if IsValidSharedReference[string](nil) {
		t.Error("IsValidSharedReference(nil) = true, want false")
	}
}

func TestSharedReference_ReleaserFailureIsLogged(t *testing.T) {
	tests := []struct {
		name     string
		releaser ResourceReleaser[string]
	}{
		{
			name: "returned error",
			releaser: ReleaserFunc[string](func(string) error {
				return errors.New("disk on fire")
			}),
		},
		{
			name: "panic",
			releaser: ReleaserFunc[string](func(string) error {
				panic("boom")
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logged []core.ErrorCategory
			logger := core.ErrorLoggerFunc(func(c core.ErrorCategory, source, msg string) {
				logged = append(logged, c)
			})
			ref, _ := NewSharedReference("payload", tt.releaser, WithErrorLogger(logger))

			if err := ref.DeleteReference(); err != nil {
				t.Errorf("DeleteReference() error = %v, want nil", err)
			}
			if len(logged) != 1 || logged[0] != core.CategoryResourceRelease {
				t.Errorf("logged categories = %v, want [%s]", logged, core.CategoryResourceRelease)
			}
			if ref.IsValid() {
				t.Error("IsValid() = true after failed release, want false")
			}
		})
	}
}

func TestSharedReference_ConcurrentDeleteReleasesOnce(t *testing.T) {
	const holders = 64

	rel := &countingReleaser{}
	ref, _ := NewSharedReference("payload", rel)
	for i := 1; i < holders; i++ {
		if err := ref.AddReference(); err != nil {
			t.Fatalf("AddReference() unexpected error: %v", err)
		}
	}

	var g errgroup.Group
	var start sync.WaitGroup
	start.Add(1)
	for i := 0; i < holders; i++ {
		g.Go(func() error {
			start.Wait()
			return ref.DeleteReference()
		})
	}
	start.Done()

	if err := g.Wait(); err != nil {
		t.Fatalf("DeleteReference() unexpected error: %v", err)
	}
	if got := rel.calls.Load(); got != 1 {
		t.Errorf("releaser calls = %d, want exactly 1", got)
	}
}

func TestNewNullSharedReference(t *testing.T) {
	ref := NewNullSharedReference[*int]()
	if !ref.IsValid() {
		t.Error("IsValid() = false, want true")
	}
	if ref.Get() != nil {
		t.Error("Get() != nil for null reference")
	}
	if err := ref.DeleteReference(); err != nil {
		t.Errorf("DeleteReference() unexpected error: %v", err)
	}
}
