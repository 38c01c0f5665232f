package collector

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResultJSONShape(t *testing.T) {
	t.Parallel()

	results := map[SourceType]Result{
		SourceTrustpilot: Success(json.RawMessage(`"s3://a"`)),
		SourceGoogle:     Failure("timeout"),
	}
	data, err := json.Marshal(results)
	require.NoError(t, err)
	require.JSONEq(t, `{"trustpilot":{"success":"s3://a"},"google":{"error":"timeout"}}`, string(data))

	var decoded map[SourceType]Result
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.True(t, decoded[SourceTrustpilot].IsSuccess())
	require.JSONEq(t, `"s3://a"`, string(decoded[SourceTrustpilot].Payload()))
	require.True(t, decoded[SourceGoogle].IsError())
	require.Equal(t, "timeout", decoded[SourceGoogle].Message())
}

func TestResultEmptyErrorMessageSurvives(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(Failure(""))
	require.NoError(t, err)
	require.JSONEq(t, `{"error":""}`, string(data))

	var r Result
	require.NoError(t, json.Unmarshal(data, &r))
	require.True(t, r.IsError())
}

func TestResultRejectsUntaggedJSON(t *testing.T) {
	t.Parallel()

	var r Result
	require.Error(t, json.Unmarshal([]byte(`{}`), &r))
}

func TestUnavailableWrapsBothErrors(t *testing.T) {
	t.Parallel()

	cause := errors.New("dial tcp: refused")
	err := Unavailable("resolve correlation", cause)
	require.ErrorIs(t, err, ErrInfrastructureUnavailable)
	require.ErrorIs(t, err, cause)
	require.NoError(t, Unavailable("noop", nil))
}

func TestParseSourceMode(t *testing.T) {
	t.Parallel()

	mode, err := ParseSourceMode(" Provider ")
	require.NoError(t, err)
	require.Equal(t, ModeProvider, mode)
	_, err = ParseSourceMode("remote")
	require.Error(t, err)
}
