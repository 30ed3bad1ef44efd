package capital

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/rustyeddy/riskengine/broker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogin(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/session", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("X-CAP-API-KEY"))
		var req sessionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Password != "secret" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"errorCode": "error.invalid.details"})
			return
		}
		w.Header().Set("CST", "new-cst")
		w.Header().Set("X-SECURITY-TOKEN", "new-token")
		writeJSON(w, http.StatusOK, map[string]string{"currentAccountId": "A1"})
	})
	c := newTestClient(t, mux)
	c.Creds = Credentials{APIKey: "key"}

	err := c.Login(context.Background(), "me@example.com", "wrong")
	assert.ErrorIs(t, err, broker.ErrRejected)
	assert.Equal(t, "error.invalid.details", broker.Reason(err))
	assert.Empty(t, c.Creds.CST)

	require.NoError(t, c.Login(context.Background(), "me@example.com", "secret"))
	assert.Equal(t, "new-cst", c.Creds.CST)
	assert.Equal(t, "new-token", c.Creds.SecurityToken)
}
