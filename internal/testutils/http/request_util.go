package testhttp

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

// DoGet sends GET request to url and decodes the JSON response body into response.
func DoGet(t *testing.T, url string, response any) *http.Response {
	t.Helper()
	httpRes, err := http.Get(url) // #nosec G107
	require.NoError(t, err)
	return decode(t, "GET", url, httpRes, response)
}

// DoPost sends req as JSON body to url and decodes the JSON response body into res.
func DoPost(t *testing.T, url string, req any, res any) *http.Response {
	t.Helper()
	reqBodyBytes, err := json.Marshal(req)
	require.NoError(t, err)
	httpRes, err := http.Post(url, "application/json", bytes.NewBuffer(reqBodyBytes)) // #nosec G107
	require.NoError(t, err)
	return decode(t, "POST", url, httpRes, res)
}

func decode(t *testing.T, method, url string, httpRes *http.Response, res any) *http.Response {
	t.Helper()
	defer func() {
		_ = httpRes.Body.Close()
	}()
	resBytes, err := io.ReadAll(httpRes.Body)
	require.NoError(t, err)
	t.Logf("%s %s response: %s", method, url, resBytes)
	require.NoError(t, json.NewDecoder(bytes.NewReader(resBytes)).Decode(res))
	return httpRes
}
