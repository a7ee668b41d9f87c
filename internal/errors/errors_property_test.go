package errors

import (
	"fmt"
	"net/http"
	"testing"

	"pgregory.net/rapid"
)

// TestProperty_DomainErrors_MapToClientStatus tests that every domain error kind maps to a 4xx response
// *For any* domain error, the HTTP envelope SHALL carry a client error status and the original message.
func TestProperty_DomainErrors_MapToClientStatus(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		message := rapid.StringMatching(`[a-zA-Z0-9 .,]{5,60}`).Draw(rt, "message")
		id := rapid.StringMatching(`[a-f0-9]{8}`).Draw(rt, "id")

		builders := []func() error{
			func() error { return Validation(message, nil) },
			func() error { return InvalidState("inquiry", id, "FORWARDED", message) },
			func() error { return Forbidden(message) },
			func() error { return Conflict("deal", id, message) },
		}
		idx := rapid.IntRange(0, len(builders)-1).Draw(rt, "builder")

		apiErr := ToAPIError(builders[idx]())

		if !IsClientError(apiErr) {
			t.Fatalf("PROPERTY VIOLATION: domain error should map to 4xx, got %d", apiErr.HTTPStatus)
		}
		if IsServerError(apiErr) {
			t.Fatalf("PROPERTY VIOLATION: domain error classified as server error")
		}
		if apiErr.Message != message {
			t.Fatalf("PROPERTY VIOLATION: message should be preserved, got %q want %q", apiErr.Message, message)
		}
	})
}

// TestProperty_WrappedDomainErrors_KeepKind tests that wrapping does not lose the kind
func TestProperty_WrappedDomainErrors_KeepKind(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		kinds := []Kind{KindValidation, KindInvalidState, KindForbidden, KindConflict, KindNotFound}
		kind := rapid.SampledFrom(kinds).Draw(rt, "kind")
		depth := rapid.IntRange(0, 4).Draw(rt, "depth")

		var err error = &DomainError{Kind: kind, Message: "boom"}
		for i := 0; i < depth; i++ {
			err = fmt.Errorf("layer %d: %w", i, err)
		}

		if !IsKind(err, kind) {
			t.Fatalf("PROPERTY VIOLATION: kind %s lost after %d wraps", kind, depth)
		}
	})
}

func TestToAPIError_InvalidStateCarriesCurrentState(t *testing.T) {
	err := InvalidState("inquiry", "inq-1", "FORWARDED", "inquiry is not pending review")

	apiErr := ToAPIError(err)

	if apiErr.HTTPStatus != http.StatusConflict {
		t.Fatalf("expected 409, got %d", apiErr.HTTPStatus)
	}
	details, ok := apiErr.Details.(map[string]string)
	if !ok {
		t.Fatalf("expected map details, got %T", apiErr.Details)
	}
	if details["current_state"] != "FORWARDED" {
		t.Errorf("expected current_state FORWARDED, got %q", details["current_state"])
	}
}

func TestToAPIError_UnknownErrorIsInternal(t *testing.T) {
	apiErr := ToAPIError(fmt.Errorf("connection reset by peer"))

	if apiErr != ErrInternalServerError {
		t.Fatalf("expected internal server error, got %+v", apiErr)
	}
	if apiErr.Message == "connection reset by peer" {
		t.Error("internal cause must not leak to the caller")
	}
}

func TestToAPIError_NotFound(t *testing.T) {
	apiErr := ToAPIError(NotFound("message", "msg-1"))

	if apiErr.HTTPStatus != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", apiErr.HTTPStatus)
	}
	if apiErr.Code != ErrNotFound {
		t.Errorf("expected code %s, got %s", ErrNotFound, apiErr.Code)
	}
}
