package httpx

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

type testEnv struct{}

func (testEnv) Log() *slog.Logger { return slog.Default() }

func TestHandlerFuncStatusError(t *testing.T) {
	require := require.New(t)
	h := HandlerFunc(func(*http.Request) testEnv { return testEnv{} }, func(testEnv, http.ResponseWriter, *http.Request) error {
		return Error(http.StatusGone, errors.New("gone"))
	})
	rw := httptest.NewRecorder()
	h(rw, httptest.NewRequest("GET", "/o/1", nil))
	require.Equal(http.StatusGone, rw.Code)
	require.Contains(rw.Body.String(), `"gone"`)
}

func TestHandlerFuncPlainError(t *testing.T) {
	require := require.New(t)
	h := HandlerFunc(func(*http.Request) testEnv { return testEnv{} }, func(testEnv, http.ResponseWriter, *http.Request) error {
		return errors.New("boom")
	})
	rw := httptest.NewRecorder()
	h(rw, httptest.NewRequest("GET", "/", nil))
	require.Equal(http.StatusInternalServerError, rw.Code)
	require.NotContains(rw.Body.String(), "boom")
}

func TestParams(t *testing.T) {
	type form struct {
		Content    string `schema:"content"`
		Visibility string `schema:"visibility"`
	}

	t.Run("form", func(t *testing.T) {
		require := require.New(t)
		req := httptest.NewRequest("POST", "/admin/notes", strings.NewReader("content=hello&visibility=public"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		var f form
		require.NoError(Params(req, &f))
		require.Equal(form{"hello", "public"}, f)
	})

	t.Run("json", func(t *testing.T) {
		require := require.New(t)
		req := httptest.NewRequest("POST", "/admin/notes", strings.NewReader(`{"Content":"hi"}`))
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
		var f form
		require.NoError(Params(req, &f))
		require.Equal("hi", f.Content)
	})

	t.Run("unsupported", func(t *testing.T) {
		require := require.New(t)
		req := httptest.NewRequest("POST", "/admin/notes", strings.NewReader("x"))
		req.Header.Set("Content-Type", "text/plain")
		var f form
		err := Params(req, &f)
		var se *StatusError
		require.ErrorAs(err, &se)
		require.Equal(http.StatusUnsupportedMediaType, se.Status())
	})
}

func TestWantsActivityJSON(t *testing.T) {
	require := require.New(t)
	req := httptest.NewRequest("GET", "/o/1", nil)
	require.False(WantsActivityJSON(req))
	req.Header.Set("Accept", `application/ld+json; profile="https://www.w3.org/ns/activitystreams"`)
	require.True(WantsActivityJSON(req))
}
