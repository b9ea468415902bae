package api

import (
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPanicRecovery(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("Expected server to handle panic")
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/panic", panickingHandler)
	mux.HandleFunc("/panic-string", func(w http.ResponseWriter, r *http.Request) { panic("oh no") })
	panicServer := httptest.NewServer(middleware(mux, nil, ioutil.Discard))
	defer panicServer.Close()

	for _, path := range []string{"/panic", "/panic-string"} {
		resp, err := http.Get(panicServer.URL + path)
		if err != nil {
			t.Fatalf("Request to panic endpoint failed: %s\n", err)
		}
		body, _ := ioutil.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusInternalServerError {
			t.Errorf("Expected server to respond with 500, got %d", resp.StatusCode)
		}
		if strings.Contains(string(body), "oh no") {
			t.Errorf("Panic value leaked to client: %s", body)
		}
	}
}

func panickingHandler(w http.ResponseWriter, r *http.Request) {
	panic(fmt.Errorf("oh no"))
}

func TestAllowedOrigins(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/ping", pingHandler)
	server := httptest.NewServer(middleware(mux, []string{"https://foo.example.com", "https://bar.example.com"}, ioutil.Discard))
	defer server.Close()

	// Allowed domain should get CORS header
	req, err := http.NewRequest("GET", server.URL+"/api/ping", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("origin", "https://foo.example.com")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	corsHeader := resp.Header["Access-Control-Allow-Origin"]
	if len(corsHeader) != 1 || corsHeader[0] != "https://foo.example.com" {
		t.Errorf("Expected CORS header to be set for allowed domain, got %v", corsHeader)
	}

	// Disallowed domain should not get CORS header
	req, err = http.NewRequest("GET", server.URL+"/api/ping", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("origin", "https://baz.example.com")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.Header["Access-Control-Allow-Origin"] != nil {
		t.Error("Expected CORS header not to be set for disallowed domain")
	}
}
