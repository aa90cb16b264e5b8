// Copyright 2019-2020 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package http

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStartStop(t *testing.T) {
	srv := NewServer()

	require.NoError(t, srv.Start("127.0.0.1:0"))
	first := srv.GetAddress()
	require.NotEmpty(t, first)
	srv.Stop()
	require.Empty(t, srv.GetAddress())

	require.NoError(t, srv.Start("127.0.0.1:0"))
	require.NoError(t, srv.Restart("127.0.0.1:0"))

	addr := srv.GetAddress()
	require.NoError(t, srv.Reconfigure(addr))
	require.Equal(t, addr, srv.GetAddress(), "same address, no restart")
	require.NoError(t, srv.Reconfigure("127.0.0.1:0"))

	require.NoError(t, srv.Shutdown(context.Background()))
	require.NoError(t, srv.Start(""))
	require.Empty(t, srv.GetAddress())
}

type testHandler struct {
	response string
}

func (h *testHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte(h.response))
}

func checkURL(t *testing.T, srv *Server, path, response string) {
	url := "http://" + srv.GetAddress() + path

	res, err := http.Get(url)
	require.NoError(t, err, "GET %s", url)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode, "GET %s", url)

	txt, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.Equal(t, response, string(txt), "GET %s", url)
}

func TestPatterns(t *testing.T) {
	srv := NewServer()
	mux := srv.GetMux()

	require.NoError(t, srv.Start("127.0.0.1:0"))
	defer srv.Stop()

	mux.Handle("/a", &testHandler{"a"})
	checkURL(t, srv, "/a", "a")

	mux.Handle("/b", &testHandler{"b"})
	checkURL(t, srv, "/b", "b")

	mux.Handle("/", &testHandler{"/"})
	checkURL(t, srv, "/b", "b")

	_, ok := mux.Unregister("/b")
	require.True(t, ok)
	checkURL(t, srv, "/b", "/")

	mux.HandleFunc("/b", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("c"))
	})
	checkURL(t, srv, "/b", "c")

	mux.Unregister("/a")
	checkURL(t, srv, "/a", "/")

	_, ok = mux.Unregister("/nonexistent")
	require.False(t, ok)
}
