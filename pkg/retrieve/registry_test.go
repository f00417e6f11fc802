package retrieve

import (
	"testing"

	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/dicomrouter/retrieve-core/pkg/query"
)

func emptyAnswer() query.FindAnswer {
	return query.FindAnswer{Fields: map[tag.Tag]string{}}
}

func TestMessageRegistryNextMessageIDStartsAt1000AndWraps(t *testing.T) {
	r := NewMessageRegistry()
	if got := r.NextMessageID(); got != 1000 {
		t.Fatalf("first message id = %d, want 1000", got)
	}
	if got := r.NextMessageID(); got != 1001 {
		t.Fatalf("second message id = %d, want 1001", got)
	}

	r.next = 65535
	if got := r.NextMessageID(); got != 65535 {
		t.Fatalf("message id before wrap = %d, want 65535", got)
	}
	if got := r.NextMessageID(); got != 1000 {
		t.Fatalf("message id after wrap = %d, want 1000", got)
	}
}

func TestMessageRegistryRegisterLookupUnregister(t *testing.T) {
	r := NewMessageRegistry()
	cmd := NewCommand(emptyAnswer())

	if _, ok := r.Lookup("AET1", 1000); ok {
		t.Fatal("expected no entry before Register")
	}

	r.Register("AET1", 1000, cmd)
	got, ok := r.Lookup("AET1", 1000)
	if !ok || got != cmd {
		t.Fatalf("Lookup after Register = (%v, %v), want (%v, true)", got, ok, cmd)
	}

	r.Unregister("AET1", 1000)
	if _, ok := r.Lookup("AET1", 1000); ok {
		t.Fatal("expected no entry after Unregister")
	}
}

func TestAddReceivedInstanceFromCStoreAttributesToRegisteredCommand(t *testing.T) {
	saved := defaultRegistry
	defaultRegistry = NewMessageRegistry()
	defer func() { defaultRegistry = saved }()

	cmd := NewCommand(emptyAnswer())
	defaultRegistry.Register("AET1", 2000, cmd)
	defer defaultRegistry.Unregister("AET1", 2000)

	ok := AddReceivedInstanceFromCStore(2000, "AET1", "1.2.3.4")
	if !ok {
		t.Fatal("expected attribution to succeed")
	}
	ids := cmd.ReceivedInstanceIDs()
	if len(ids) != 1 || ids[0] != "1.2.3.4" {
		t.Fatalf("received instance ids = %v, want [1.2.3.4]", ids)
	}

	if ok := AddReceivedInstanceFromCStore(9999, "AET1", "5.6.7.8"); ok {
		t.Fatal("expected attribution for unknown message id to fail")
	}
}
