package httpclient

import (
	"net/http"
	"testing"
	"time"
)

func TestNewOutbound_AppliesOptions(t *testing.T) {
	c := NewOutbound(Options{Timeout: 3 * time.Second, MaxConnsPerHost: 4})
	if c.Timeout != 3*time.Second {
		t.Fatalf("timeout=%v", c.Timeout)
	}
	tr, ok := c.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("transport=%T", c.Transport)
	}
	if tr.MaxConnsPerHost != 4 || !tr.DisableCompression {
		t.Fatalf("per host=%d disable compression=%v", tr.MaxConnsPerHost, tr.DisableCompression)
	}
}

func TestNewOutbound_DefaultPerHost(t *testing.T) {
	tr := NewOutbound(Options{}).Transport.(*http.Transport)
	if tr.MaxConnsPerHost != 32 {
		t.Fatalf("per host=%d want 32", tr.MaxConnsPerHost)
	}
}
