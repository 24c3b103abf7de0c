package controller

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func Test_parseLimit(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		def     int
		want    int
		wantErr bool
	}{
		{"default", "", 10, 10, false},
		{"other default", "", 20, 20, false},
		{"explicit", "?limit=5", 10, 5, false},
		{"max", "?limit=1000", 10, 1000, false},
		{"over max", "?limit=1001", 10, 0, true},
		{"zero", "?limit=0", 10, 0, true},
		{"negative", "?limit=-3", 10, 0, true},
		{"not a number", "?limit=ten", 10, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/weather/latest"+tt.query, nil)
			got, err := parseLimit(r, tt.def)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseLimit() err = %v; wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseLimit() = %d; want %d", got, tt.want)
			}
		})
	}
}
