package cachekey

import (
	"fmt"
	"net/http"
	"strings"
)

const methodSeparator = ":"

// GetKey returns the bucket key (request identity) for a request.
// The identity is the method plus the request URI, query included.
// Scheme and host are not part of the key, since a bucket belongs to a single origin.
func GetKey(r *http.Request) string {
	return r.Method + methodSeparator + r.URL.RequestURI()
}

// PathKey returns the key a GET request for the given path would have.
func PathKey(path string) string {
	return http.MethodGet + methodSeparator + path
}

// GetRequestFromKey generates a request that results in the provided key.
// It returns an error if the key is malformed.
func GetRequestFromKey(key string) (*http.Request, error) {
	method, uri, found := strings.Cut(key, methodSeparator)
	if !found || method == "" || !strings.HasPrefix(uri, "/") {
		return nil, fmt.Errorf("malformed key: %s", key)
	}
	return http.NewRequest(method, uri, nil)
}
