package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/urfave/cli/v2"
)

func TestExitErrHandler_NilError(t *testing.T) {
	// Should not panic or exit on nil error
	exitErrHandler(nil, nil)
}

func TestReport(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantOut  string
	}{
		{"success no message", cli.Exit("", 0), 0, ""},
		{"failure with message", cli.Exit("no input files", 1), 1, "no input files\n"},
		{"usage", cli.Exit("invalid config: aws.s3_bucket is required", 2), 2, "invalid config: aws.s3_bucket is required\n"},
		{"interrupted silent", cli.Exit("", 130), 130, ""},
		{"wrapped exit coder", errors.Join(errors.New("context"), cli.Exit("inner error", 42)), 42, ""},
		{"regular error", errors.New(`Required flag "config" not set`), 2, "Error: Required flag \"config\" not set\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			code := report(&buf, tt.err)
			if code != tt.wantCode {
				t.Errorf("code = %d, want %d", code, tt.wantCode)
			}
			if tt.wantOut != "" && buf.String() != tt.wantOut {
				t.Errorf("output = %q, want %q", buf.String(), tt.wantOut)
			}
			if tt.wantOut == "" && tt.name != "wrapped exit coder" && buf.Len() != 0 {
				t.Errorf("expected no output, got %q", buf.String())
			}
		})
	}
}
