package safehttp

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPublic(t *testing.T) {
	tests := []struct {
		ip   string
		want bool
	}{
		{"127.0.0.1", false},
		{"::1", false},
		{"10.1.2.3", false},
		{"192.168.0.10", false},
		{"172.16.5.4", false},
		{"169.254.169.254", false},
		{"0.0.0.0", false},
		{"93.184.216.34", true},
		{"2606:4700::1111", true},
	}
	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			if got := Public(net.ParseIP(tt.ip)); got != tt.want {
				t.Errorf("Public(%s) = %v, want %v", tt.ip, got, tt.want)
			}
		})
	}
}

func TestCheckAddress(t *testing.T) {
	if err := checkAddress("127.0.0.1:80"); !errors.Is(err, ErrPrivateAddress) {
		t.Errorf("loopback error = %v, want ErrPrivateAddress", err)
	}
	if err := checkAddress("93.184.216.34:443"); err != nil {
		t.Errorf("public address error = %v", err)
	}
	if err := checkAddress("not-an-ip:80"); err == nil {
		t.Error("expected parse error")
	}
}

func TestClient_RefusesLoopback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := NewClient(2 * time.Second).Do(req)
	if err == nil {
		resp.Body.Close()
		t.Fatal("expected loopback dial to be refused")
	}
	if !errors.Is(err, ErrPrivateAddress) {
		t.Errorf("error = %v, want ErrPrivateAddress", err)
	}
}
