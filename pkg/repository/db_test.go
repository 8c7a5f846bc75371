package repository

import (
	"errors"
	"strings"
	"testing"

	"github.com/tito24dxb/emiratesapp-sub004/pkg/domain"
)

func TestStoreErr(t *testing.T) {
	cause := errors.New("connection refused")
	err := storeErr("issue challenge", cause)

	// Callers classify transient driver failures through the sentinel.
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Error("storeErr does not wrap ErrStoreUnavailable")
	}
	if !strings.Contains(err.Error(), "issue challenge") {
		t.Errorf("Missing operation in message: %v", err)
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("Missing cause in message: %v", err)
	}

	// The underlying driver error stays out of the errors.Is chain so it
	// never leaks into client-facing classification.
	if errors.Is(err, cause) {
		t.Error("Driver error exposed in the errors.Is chain")
	}
}
