package cmd

import (
	"errors"
	"testing"

	"github.com/alcovehq/alcove/internal/upload"
)

func TestReportResult(t *testing.T) {
	tests := []struct {
		name     string
		result   *upload.Result
		wantFail bool
	}{
		{"nil result", nil, false},
		{"clean", &upload.Result{Succeeded: []string{"d1"}}, false},
		{"rejected upload", &upload.Result{
			Rejected: []upload.FileError{{Path: "a.pdf", Err: errors.New("too large")}},
		}, true},
		{"processing failure", &upload.Result{
			Succeeded: []string{"d1"},
			Failed:    []upload.DocumentError{{DocumentID: "d2", Path: "b.pdf", Err: errors.New("unreadable")}},
		}, true},
		{"indeterminate", &upload.Result{
			Failed: []upload.DocumentError{{DocumentID: "d3", Path: "c.pdf", Err: upload.ErrProcessingTimeout, Indeterminate: true}},
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := reportResult(tt.result); got != tt.wantFail {
				t.Errorf("reportResult = %v, want %v", got, tt.wantFail)
			}
		})
	}
}
