package errors

import (
	"errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "without wrapped error",
			err:  New(CodeValidation, "invalid input"),
			want: "VALIDATION_ERROR: invalid input",
		},
		{
			name: "with wrapped error",
			err:  Wrap(CodeInternal, "something failed", errors.New("underlying")),
			want: "INTERNAL_ERROR: something failed: underlying",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := Wrap(CodeInternal, "wrapped", underlying)

	if unwrapped := err.Unwrap(); unwrapped != underlying {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, underlying)
	}
}

func TestAppError_GRPCStatus(t *testing.T) {
	tests := []struct {
		code string
		want codes.Code
	}{
		{CodeValidation, codes.InvalidArgument},
		{CodeFormat, codes.InvalidArgument},
		{CodeNotFound, codes.NotFound},
		{CodeIO, codes.FailedPrecondition},
		{CodeRateLimited, codes.ResourceExhausted},
		{CodeUnavailable, codes.Unavailable},
		{CodeTimeout, codes.DeadlineExceeded},
		{CodeComputation, codes.Internal},
		{CodeInternal, codes.Internal},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test")
			if got := status.Code(err); got != tt.want {
				t.Errorf("status.Code() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAppError_WithDetail(t *testing.T) {
	err := New(CodeValidation, "invalid").
		WithDetail("field", "resolution").
		WithDetail("reason", "must be positive")

	if err.Details["field"] != "resolution" {
		t.Errorf("Details[field] = %s, want resolution", err.Details["field"])
	}

	if err.Details["reason"] != "must be positive" {
		t.Errorf("Details[reason] = %s, want must be positive", err.Details["reason"])
	}
}

func TestConvenienceConstructors(t *testing.T) {
	t.Run("NotFoundError", func(t *testing.T) {
		err := NotFoundError("tensor list")
		if err.Code != CodeNotFound {
			t.Errorf("Code = %s, want %s", err.Code, CodeNotFound)
		}
		if err.Message != "tensor list not found" {
			t.Errorf("Message = %s, want 'tensor list not found'", err.Message)
		}
	})

	t.Run("IOError", func(t *testing.T) {
		underlying := errors.New("permission denied")
		err := IOError("/data/a.tns", underlying)
		if err.Code != CodeIO {
			t.Errorf("Code = %s, want %s", err.Code, CodeIO)
		}
		if err.Details["path"] != "/data/a.tns" {
			t.Errorf("Details[path] = %s, want /data/a.tns", err.Details["path"])
		}
		if err.Unwrap() != underlying {
			t.Error("Underlying error not preserved")
		}
	})

	t.Run("FormatError", func(t *testing.T) {
		err := FormatError("a.tns", 7, "expected 4 fields, got 3")
		if err.Code != CodeFormat {
			t.Errorf("Code = %s, want %s", err.Code, CodeFormat)
		}
		if err.Details["line"] != "7" {
			t.Errorf("Details[line] = %s, want 7", err.Details["line"])
		}
	})

	t.Run("FormatError without line", func(t *testing.T) {
		err := FormatError("", 0, "empty file")
		if len(err.Details) != 0 {
			t.Errorf("Details = %v, want empty", err.Details)
		}
	})

	t.Run("ComputationError", func(t *testing.T) {
		err := ComputationError("slice count mismatch", nil)
		if err.Code != CodeComputation {
			t.Errorf("Code = %s, want %s", err.Code, CodeComputation)
		}
	})

	t.Run("TimeoutError", func(t *testing.T) {
		err := TimeoutError("sampling a.tns")
		if err.Message != "sampling a.tns timed out" {
			t.Errorf("Message = %s", err.Message)
		}
	})
}

func TestIsCode_WrappedChain(t *testing.T) {
	inner := FormatError("a.tns", 2, "bad header")
	wrapped := fmt.Errorf("loading: %w", inner)

	if !IsFormat(wrapped) {
		t.Error("IsFormat(wrapped) = false, want true")
	}
	if IsNotFound(wrapped) {
		t.Error("IsNotFound(wrapped) = true, want false")
	}
	if Code(errors.New("plain")) != "" {
		t.Error("Code(plain) should be empty")
	}
}

func TestIsValidation(t *testing.T) {
	validation := ValidationError("test")
	other := NotFoundError("test")

	if !IsValidation(validation) {
		t.Error("IsValidation(ValidationError) = false, want true")
	}

	if IsValidation(other) {
		t.Error("IsValidation(NotFoundError) = true, want false")
	}
}

func TestFromGRPC(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
		wantMsg  string
	}{
		{"format round trip", FormatError("x.tns", 3, "bad line").GRPCStatus().Err(), CodeFormat, "bad line"},
		{"not found round trip", NotFoundError("x.tns").GRPCStatus().Err(), CodeNotFound, "x.tns not found"},
		{"bare unavailable", status.Error(codes.Unavailable, "connection refused"), CodeUnavailable, "connection refused"},
		{"bare deadline", status.Error(codes.DeadlineExceeded, "slow"), CodeTimeout, "slow"},
		{"bare unknown", status.Error(codes.Unknown, "boom"), CodeInternal, "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromGRPC(tt.err)
			var appErr *AppError
			if !errors.As(got, &appErr) {
				t.Fatalf("FromGRPC() = %T, want *AppError", got)
			}
			if appErr.Code != tt.wantCode {
				t.Errorf("Code = %s, want %s", appErr.Code, tt.wantCode)
			}
			if appErr.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", appErr.Message, tt.wantMsg)
			}
		})
	}

	plain := fmt.Errorf("plain")
	if FromGRPC(plain) != plain {
		t.Error("FromGRPC() should return non-status errors unchanged")
	}
	if FromGRPC(nil) != nil {
		t.Error("FromGRPC(nil) should be nil")
	}
}
