package actions_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/weave/runtime/actions"
	"goa.design/weave/runtime/workflow"
)

func remoteClient(url string) *actions.RemoteClient {
	return actions.NewRemoteClient(map[string]actions.Connector{
		"monday": {URL: url},
	})
}

func TestRemoteInvokePassesResultThrough(t *testing.T) {
	var (
		gotPath string
		gotBody map[string]any
		headers http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		headers = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(actions.Result{
			Status:  actions.StatusSucceeded,
			Outputs: map[string]any{"itemId": "42"},
			ResourceLinks: []actions.ResourceLink{
				{System: "monday", Type: "item", ID: "42"},
			},
		})
	}))
	defer srv.Close()

	res, err := remoteClient(srv.URL).Invoke(context.Background(),
		&actions.Remote{Connector: "monday"}, "monday.create-item",
		actions.Invocation{
			ExecutionID:   "e-1",
			NodeID:        "n-1",
			CorrelationID: "corr-1",
			Principal:     &workflow.Principal{UserID: "u-1", Email: "u@example.com", DisplayName: "U"},
			Parameters:    map[string]any{"name": "widget"},
		})
	require.NoError(t, err)
	require.Equal(t, actions.StatusSucceeded, res.Status)
	require.Equal(t, "42", res.Outputs["itemId"])
	require.Len(t, res.ResourceLinks, 1)

	require.Equal(t, "/api/v1/actions/execute", gotPath)
	require.Equal(t, "monday.create-item", gotBody["actionType"])
	execCtx := gotBody["executionContext"].(map[string]any)
	require.Equal(t, "e-1", execCtx["executionId"])
	require.Equal(t, "n-1", execCtx["nodeId"])

	require.Equal(t, "corr-1", headers.Get("X-Correlation-Id"))
	require.Equal(t, "u-1", headers.Get("X-Acting-User-Id"))
	require.Equal(t, "u@example.com", headers.Get("X-Acting-User-Email"))
	require.Equal(t, "U", headers.Get("X-Acting-User-Name"))
}

func TestRemoteInvokeWellFormedErrorBodyIsReturnedAsIs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(actions.Result{
			Status:       actions.StatusFailed,
			ErrorMessage: "board does not exist",
		})
	}))
	defer srv.Close()

	res, err := remoteClient(srv.URL).Invoke(context.Background(),
		&actions.Remote{Connector: "monday"}, "monday.create-item", actions.Invocation{})
	require.NoError(t, err)
	require.Equal(t, actions.StatusFailed, res.Status)
	require.Equal(t, "board does not exist", res.ErrorMessage)
}

func TestRemoteInvokeNon2xxWithoutBodyIsRetriable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	res, err := remoteClient(srv.URL).Invoke(context.Background(),
		&actions.Remote{Connector: "monday"}, "monday.create-item", actions.Invocation{})
	require.NoError(t, err)
	require.Equal(t, actions.StatusRetryable, res.Status)
	require.Contains(t, res.ErrorMessage, "502")
}

func TestRemoteInvokeTransportFailureIsRetriable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // refuse connections

	res, err := remoteClient(srv.URL).Invoke(context.Background(),
		&actions.Remote{Connector: "monday"}, "monday.create-item", actions.Invocation{})
	require.NoError(t, err)
	require.Equal(t, actions.StatusRetryable, res.Status)
}

func TestRemoteInvokeUnknownConnectorIsError(t *testing.T) {
	_, err := remoteClient("http://127.0.0.1:0").Invoke(context.Background(),
		&actions.Remote{Connector: "ghost"}, "x", actions.Invocation{})
	require.Error(t, err)
}
