package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/JonMunkholm/wis2box-migrate/internal/failure"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{
			name:     "nil error returns empty",
			err:      nil,
			wantCode: "",
		},
		{
			name:     "configuration missing",
			err:      failure.Newf(failure.ConfigurationMissing, "WIS2BOX_HOST_DATADIR", "not set"),
			wantCode: "CFG001",
		},
		{
			name:     "resource not found",
			err:      failure.New(failure.ResourceNotFound, "wmo_region.json", nil),
			wantCode: "RES001",
		},
		{
			name:     "io error",
			err:      failure.New(failure.IOError, "station_list.csv", errors.New("boom")),
			wantCode: "IO001",
		},
		{
			name:     "store unavailable",
			err:      failure.New(failure.StoreUnavailable, "stations", nil),
			wantCode: "STORE001",
		},
		{
			name:     "update rejected",
			err:      failure.New(failure.UpdateRejected, "stations", nil),
			wantCode: "STORE002",
		},
		{
			name:     "unknown version",
			err:      failure.New(failure.UnknownVersion, "9.9.9", nil),
			wantCode: "VER001",
		},
		{
			name:     "kind survives wrapping",
			err:      fmt.Errorf("migrate v1.0b7: %w", failure.New(failure.IOError, "x", nil)),
			wantCode: "IO001",
		},
		{
			name:     "kind wins over pattern",
			err:      failure.New(failure.UpdateRejected, "stations", errors.New("connection refused")),
			wantCode: "STORE002",
		},
		{
			name:     "connection refused pattern",
			err:      errors.New("dial tcp 127.0.0.1:9200: connection refused"),
			wantCode: "STORE001",
		},
		{
			name:     "case insensitive pattern",
			err:      errors.New("open station_list.csv: NO SUCH FILE OR DIRECTORY"),
			wantCode: "IO001",
		},
		{
			name:     "unknown error returns default",
			err:      errors.New("some random internal error"),
			wantCode: "ERR000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	err := failure.New(failure.UnknownVersion, "9.9.9", nil)
	result := FormatUserError(err)

	expected := `No migration exists for the requested version (Code: VER001). Run "wis2box-migrate list" for the available versions`
	if result != expected {
		t.Errorf("FormatUserError() = %q, want %q", result, expected)
	}

	if got := FormatUserError(nil); got != "" {
		t.Errorf("FormatUserError(nil) = %q, want empty", got)
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "nil error is not user facing",
			err:  nil,
			want: false,
		},
		{
			name: "classified error is user facing",
			err:  failure.New(failure.IOError, "x", nil),
			want: true,
		},
		{
			name: "unknown error is not user facing",
			err:  errors.New("random internal error xyz"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsUserFacing(tt.err)
			if got != tt.want {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.want)
			}
		})
	}
}
