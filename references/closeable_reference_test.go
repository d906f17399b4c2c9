package references

import (
	"errors"
	"testing"
)

func TestOf(t *testing.T) {
	rel := &countingReleaser{}
	ref, err := Of("payload", rel)
	if err != nil {
		t.Fatalf("Of() unexpected error: %v", err)
	}
	if !IsValid(ref) {
		t.Error("IsValid() = false, want true")
	}
	if got := ref.SharedReference().RefCount(); got != 1 {
		t.Errorf("RefCount() = %d, want 1", got)
	}
}

func TestCloseableReference_CloseIsIdempotent(t *testing.T) {
	rel := &countingReleaser{}
	ref, _ := Of("payload", rel)
	clone := ref.Clone()

	for i := 0; i < 3; i++ {
		if err := ref.Close(); err != nil {
			t.Fatalf("Close() #%d unexpected error: %v", i+1, err)
		}
	}

	if got := clone.SharedReference().RefCount(); got != 1 {
		t.Errorf("RefCount() = %d, want 1 after closing one handle repeatedly", got)
	}
	if got := rel.calls.Load(); got != 0 {
		t.Errorf("releaser calls = %d, want 0 while a clone is open", got)
	}
	if IsValid(ref) {
		t.Error("IsValid(closed) = true, want false")
	}
	if !IsValid(clone) {
		t.Error("IsValid(clone) = false, want true")
	}
}

func TestCloseableReference_Clone(t *testing.T) {
	rel := &countingReleaser{}
	ref, _ := Of("payload", rel)

	clone := ref.Clone()
	if clone == nil {
		t.Fatal("Clone() = nil for a valid reference")
	}
	if got := ref.SharedReference().RefCount(); got != 2 {
		t.Errorf("RefCount() = %d, want 2", got)
	}
	if clone.SharedReference() != ref.SharedReference() {
		t.Error("Clone() does not share the underlying reference")
	}
	if got := clone.Get(); got != "payload" {
		t.Errorf("clone.Get() = %q, want %q", got, "payload")
	}
}

func TestCloseableReference_CloneOfDeadHandle(t *testing.T) {
	rel := &countingReleaser{}
	ref, _ := Of("payload", rel)
	sibling := ref.Clone()
	_ = ref.Close()

	tests := []struct {
		name string
		ref  *CloseableReference[string]
	}{
		{name: "nil", ref: nil},
		{name: "closed", ref: ref},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CloneOrNil(tt.ref); got != nil {
				t.Errorf("CloneOrNil() = %v, want nil", got)
			}
			if got := sibling.SharedReference().RefCount(); got != 1 {
				t.Errorf("RefCount() = %d, want 1 (unchanged)", got)
			}
		})
	}
}

func TestCloseableReference_ClosedGet(t *testing.T) {
	ref, _ := Of("payload", NoOpReleaser[string]())
	_ = ref.Close()

	if _, err := ref.TryGet(); !errors.Is(err, ErrReferenceClosed) {
		t.Errorf("TryGet() error = %v, want ErrReferenceClosed", err)
	}

	defer func() {
		p := recover()
		err, ok := p.(error)
		if !ok || !errors.Is(err, ErrReferenceClosed) {
			t.Errorf("Get() panic = %v, want ErrReferenceClosed", p)
		}
	}()
	_ = ref.Get()
	t.Error("Get() on a closed reference did not panic")
}

func TestCloseableReference_GetAfterSharedReleased(t *testing.T) {
	var releases int
	ref, _ := Of("payload", ReleaserFunc[string](func(string) error {
		releases++
		return nil
	}))

	// Drop the only count behind the handle's back.
	if err := ref.SharedReference().DeleteReference(); err != nil {
		t.Fatalf("DeleteReference() error = %v", err)
	}
	if releases != 1 {
		t.Fatalf("releases = %d, want 1", releases)
	}

	v, err := ref.TryGet()
	if !errors.Is(err, ErrReferenceReleased) {
		t.Errorf("TryGet() = %q, %v, want ErrReferenceReleased", v, err)
	}
	var violation *ContractViolation
	if !errors.As(err, &violation) || violation.Op != "Get" {
		t.Errorf("TryGet() error = %#v, want *ContractViolation for Get", err)
	}
	if ref.IsValid() {
		t.Error("IsValid() = true for a released shared reference")
	}

	defer func() {
		p := recover()
		err, ok := p.(error)
		if !ok || !errors.Is(err, ErrReferenceReleased) {
			t.Errorf("Get() panic = %v, want ErrReferenceReleased", p)
		}
	}()
	_ = ref.Get()
	t.Error("Get() on a released reference did not panic")
}

func TestIsValid_Nil(t *testing.T) {
	if IsValid[string](nil) {
		t.Error("IsValid(nil) = true, want false")
	}
}

// Clone twice, close all three handles: the payload is released exactly
// once, at the third close.
func TestCloseableReference_ReleaseAtLastClose(t *testing.T) {
	rel := &countingReleaser{}
	ref, _ := Of("payload", rel)
	a := ref.Clone()
	b := ref.Clone()

	if got := ref.SharedReference().RefCount(); got != 3 {
		t.Fatalf("RefCount() = %d, want 3", got)
	}

	handles := []*CloseableReference[string]{ref, a, b}
	for i, h := range handles {
		_ = h.Close()
		want := int32(0)
		if i == len(handles)-1 {
			want = 1
		}
		if got := rel.calls.Load(); got != want {
			t.Errorf("after close #%d releaser calls = %d, want %d", i+1, got, want)
		}
	}
}

func TestFromShared(t *testing.T) {
	shared, _ := NewSharedReference("payload", NoOpReleaser[string]())
	h := FromShared(shared)
	if h == nil {
		t.Fatal("FromShared() = nil for a live reference")
	}
	if got := shared.RefCount(); got != 2 {
		t.Errorf("RefCount() = %d, want 2", got)
	}
	_ = h.Close()
	_ = shared.DeleteReference()
	if FromShared(shared) != nil {
		t.Error("FromShared() on a released reference should return nil")
	}
	if FromShared[string](nil) != nil {
		t.Error("FromShared(nil) should return nil")
	}
}

type closerStub struct{ closed int }

func (c *closerStub) Close() error {
	c.closed++
	return nil
}

func TestOfCloser_AndCloseSafely(t *testing.T) {
	stub := &closerStub{}
	ref, err := OfCloser(stub)
	if err != nil {
		t.Fatalf("OfCloser() unexpected error: %v", err)
	}
	clone := ref.Clone()

	CloseSafely(ref, nil, clone)

	if stub.closed != 1 {
		t.Errorf("Close() calls = %d, want 1", stub.closed)
	}
}
