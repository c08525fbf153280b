package errors

import (
	"errors"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		want     string
	}{
		{
			name: "basic error",
			appError: &AppError{
				Type:    ErrTypeConfig,
				Message: "configuration is invalid",
			},
			want: "config: configuration is invalid",
		},
		{
			name: "error with code",
			appError: &AppError{
				Type:    ErrTypeAuth,
				Message: "api key rejected",
				Code:    "AUTH001",
			},
			want: "authentication: api key rejected: code=AUTH001",
		},
		{
			name: "error with cause",
			appError: &AppError{
				Type:    ErrTypeConnection,
				Message: "counter store unreachable",
				Cause:   errors.New("network timeout"),
			},
			want: "connection: counter store unreachable: cause=network timeout",
		},
		{
			name: "upstream error with cause",
			appError: &AppError{
				Type:    ErrTypeUpstream,
				Message: "upstream request failed",
				Cause:   errors.New("connection refused"),
			},
			want: "upstream: upstream request failed: cause=connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.appError.Error()
			if got != tt.want {
				t.Errorf("AppError.Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	appError := ConfigFetchError("config fetch failed", cause)

	if !errors.Is(appError, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
	if appError.Unwrap() != cause {
		t.Errorf("Unwrap() = %v, want %v", appError.Unwrap(), cause)
	}
}

func TestConstructors(t *testing.T) {
	cause := errors.New("boom")

	tests := []struct {
		name     string
		err      *AppError
		wantType ErrorType
	}{
		{"connection", ConnectionError("down", cause), ErrTypeConnection},
		{"validation", ValidationError("bad input"), ErrTypeValidation},
		{"config", ConfigError("bad config"), ErrTypeConfig},
		{"config fetch", ConfigFetchError("fetch failed", cause), ErrTypeConfig},
		{"auth", AuthError("missing key"), ErrTypeAuth},
		{"internal", InternalError("oops", cause), ErrTypeInternal},
		{"timeout", TimeoutError("rate check"), ErrTypeTimeout},
		{"rate limit", RateLimitError("project"), ErrTypeRateLimit},
		{"upstream", UpstreamError("dispatch failed", cause), ErrTypeUpstream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Type != tt.wantType {
				t.Errorf("got type %v, want %v", tt.err.Type, tt.wantType)
			}
			if !IsType(tt.err, tt.wantType) {
				t.Errorf("IsType(%v) = false, want true", tt.wantType)
			}
		})
	}
}

func TestIsType(t *testing.T) {
	if IsType(nil, ErrTypeConfig) {
		t.Error("IsType(nil) should be false")
	}
	if IsType(errors.New("plain"), ErrTypeConfig) {
		t.Error("IsType(plain error) should be false")
	}
	if IsType(AuthError("x"), ErrTypeConfig) {
		t.Error("IsType should not match a different type")
	}
}

func TestGetType(t *testing.T) {
	if got := GetType(nil); got != "" {
		t.Errorf("GetType(nil) = %v, want empty", got)
	}
	if got := GetType(errors.New("plain")); got != ErrTypeInternal {
		t.Errorf("GetType(plain) = %v, want internal", got)
	}
	if got := GetType(UpstreamError("x", nil)); got != ErrTypeUpstream {
		t.Errorf("GetType = %v, want upstream", got)
	}
}

func TestWithContextAndCode(t *testing.T) {
	err := ValidationError("bad field").WithCode("VAL001").WithContext("field", "upstream_url")

	if err.Code != "VAL001" {
		t.Errorf("got code %v, want VAL001", err.Code)
	}
	if err.Context["field"] != "upstream_url" {
		t.Errorf("got context %v, want field=upstream_url", err.Context)
	}
}
