package device

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsCrash(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{ErrBackendCrashed, true},
		{fmt.Errorf("click: %w", ErrBackendCrashed), true},
		{errors.New("read tcp 127.0.0.1:9222: connection reset by peer"), true},
		{errors.New("websocket: close 1006 (abnormal closure)"), true},
		{errors.New("unexpected EOF"), true},
		{ErrProviderUnavailable, false},
		{ErrParse, false},
		{errors.New("element not found"), false},
	}
	for _, tt := range tests {
		if got := IsCrash(tt.err); got != tt.want {
			t.Errorf("IsCrash(%v): got %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestDirection_String(t *testing.T) {
	if Older.String() != "older" || Newer.String() != "newer" {
		t.Fatalf("got %s/%s", Older, Newer)
	}
}
