package cachekey

import (
	"net/http"
	"testing"
)

func TestRequestFromKey(t *testing.T) {
	r, _ := http.NewRequest("GET", "http://dev.localhost/page?lang=sw", nil)
	key := GetKey(r)
	req, err := GetRequestFromKey(key)
	if err != nil {
		t.Fatalf("%s: %s", key, err)
	}
	if url := req.URL.String(); url != "/page?lang=sw" {
		t.Fatalf("Created request url for key %s is %s", key, url)
	}
	if req.Method != "GET" {
		t.Fatalf("Created request method is %s", req.Method)
	}
}

func TestKeyIgnoresHost(t *testing.T) {
	a, _ := http.NewRequest("GET", "http://origin.local/static/css/main.css", nil)
	b, _ := http.NewRequest("GET", "/static/css/main.css", nil)
	if GetKey(a) != GetKey(b) {
		t.Fatalf("%s != %s", GetKey(a), GetKey(b))
	}
	if GetKey(b) != PathKey("/static/css/main.css") {
		t.Fatalf("%s != %s", GetKey(b), PathKey("/static/css/main.css"))
	}
}

func TestKeyIncludesMethod(t *testing.T) {
	get, _ := http.NewRequest("GET", "/", nil)
	head, _ := http.NewRequest("HEAD", "/", nil)
	if GetKey(get) == GetKey(head) {
		t.Fatalf("GET and HEAD share key %s", GetKey(get))
	}
}

func TestMalformedKey(t *testing.T) {
	for _, key := range []string{"", "GET", "GET:page", ":/page"} {
		if _, err := GetRequestFromKey(key); err == nil {
			t.Fatalf("no error for key %q", key)
		}
	}
}
