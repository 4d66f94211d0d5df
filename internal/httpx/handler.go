// Package httpx adapts handlers that return errors to http.HandlerFunc.
// see https://blog.questionable.services/article/http-handler-error-handling-revisited/ for more details.
package httpx

import (
	"errors"
	"net/http"

	"github.com/go-json-experiment/json"
	"golang.org/x/exp/slog"
)

// Error returns err annotated with the HTTP status code the handler should reply with.
func Error(code int, err error) error {
	return &StatusError{code, err}
}

// StatusError represents an error with an associated HTTP status code.
type StatusError struct {
	Code int
	Err  error
}

func (se *StatusError) Error() string {
	return se.Err.Error()
}

func (se *StatusError) Unwrap() error {
	return se.Err
}

// Status returns the HTTP status code.
func (se *StatusError) Status() int {
	return se.Code
}

// Env is the per request environment handed to a handler.
type Env interface {
	Log() *slog.Logger
}

// HandlerFunc adapts a function that returns an error to an http.HandlerFunc.
// Errors carrying a StatusError are written with their status, everything
// else becomes a 500.
func HandlerFunc[E Env](envFn func(r *http.Request) E, fn func(E, http.ResponseWriter, *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		env := envFn(r)
		err := fn(env, w, r)
		if err == nil {
			return
		}
		code := http.StatusInternalServerError
		msg := http.StatusText(code)
		if se := new(StatusError); errors.As(err, &se) {
			code = se.Status()
			msg = se.Error()
		}
		env.Log().Info("http error", "method", r.Method, "path", r.URL.Path, "status", code, "error", err)
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(code)
		json.MarshalFull(w, map[string]any{
			"error": msg,
		})
	}
}

// Redirect returns a 302 redirect to the specified URI.
func Redirect(w http.ResponseWriter, uri string) error {
	w.Header().Set("Location", uri)
	w.WriteHeader(http.StatusFound)
	return nil
}
