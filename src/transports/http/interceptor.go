package http

import "net/http"

// Interceptor may mutate an outgoing request before it is sent. body is the
// exact payload that will go on the wire, nil for bodiless requests.
type Interceptor interface {
	Intercept(req *http.Request, body []byte) error
}

// InterceptorFunc adapts a function to Interceptor.
type InterceptorFunc func(req *http.Request, body []byte) error

func (f InterceptorFunc) Intercept(req *http.Request, body []byte) error { return f(req, body) }

// HeadersInterceptor sets static headers on every request.
type HeadersInterceptor map[string]string

func (h HeadersInterceptor) Intercept(req *http.Request, _ []byte) error {
	for k, v := range h {
		req.Header.Set(k, v)
	}
	return nil
}
