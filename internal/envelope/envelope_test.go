package envelope

import (
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var timestampPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z$`)

func TestBuildDefaults(t *testing.T) {
	env := Build("INIT", "agent1", "agent2")

	require.Equal(t, "INIT", env.Tipo())
	require.Equal(t, "agent1", env.Origen())
	require.Equal(t, "agent2", env.Destino())
	require.Equal(t, false, env[FieldRequiereAck])
	require.Equal(t, map[string]any{}, env[FieldDatos])

	for _, key := range []string{FieldRespuestaA, FieldIDSesion, FieldNumeroSecuencia} {
		v, ok := env[key]
		require.True(t, ok, "optional key %q should be present", key)
		require.Nil(t, v, "optional key %q should be null", key)
	}

	id, err := uuid.Parse(env.IDMensaje())
	require.NoError(t, err)
	require.Equal(t, uuid.Version(4), id.Version())
	require.Regexp(t, timestampPattern, env.Timestamp())
}

func TestBuildStampsUTC(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	now := time.Date(2023, 11, 16, 7, 0, 0, 999, loc)
	env := buildAt(now, "INIT", "a", "b")
	require.Equal(t, "2023-11-16T12:00:00Z", env.Timestamp())
}

func TestBuildUniqueIDs(t *testing.T) {
	seen := make(map[string]struct{}, 256)
	for i := 0; i < 256; i++ {
		id := Build("PING", "a", "b").IDMensaje()
		_, dup := seen[id]
		require.False(t, dup, "duplicate id_mensaje %s", id)
		seen[id] = struct{}{}
	}
}

func TestBuildOverrides(t *testing.T) {
	custom := uuid.NewString()
	datos := map[string]any{"key": "value"}
	env := Build("ACK", "agent1", "agent2",
		WithIDMensaje(custom),
		WithRespuestaA("some_uuid"),
		WithIDSesion("session_uuid"),
		WithNumeroSecuencia(1),
		WithRequiereAck(true),
		WithDatos(datos),
	)

	require.Equal(t, custom, env.IDMensaje())
	require.True(t, env.RequiereAck())
	require.Equal(t, datos, env.Datos())

	ref, ok := env.RespuestaA()
	require.True(t, ok)
	require.Equal(t, "some_uuid", ref)

	sid, ok := env.IDSesion()
	require.True(t, ok)
	require.Equal(t, "session_uuid", sid)

	seq, ok := env.NumeroSecuencia()
	require.True(t, ok)
	require.EqualValues(t, 1, seq)
}

func TestReply(t *testing.T) {
	req := Build("QUERY", "agent1", "agent2", WithIDSesion("s-1"))
	resp := Reply(req, "RESULT", WithDatos(map[string]any{"ok": true}))

	require.Equal(t, "agent2", resp.Origen())
	require.Equal(t, "agent1", resp.Destino())
	ref, _ := resp.RespuestaA()
	require.Equal(t, req.IDMensaje(), ref)
	sid, _ := resp.IDSesion()
	require.Equal(t, "s-1", sid)
	require.NotEqual(t, req.IDMensaje(), resp.IDMensaje())
}

func TestParseValid(t *testing.T) {
	raw := `{"tipo": "INIT", "id_mensaje": "1234", "origen": "agent1", "destino": "agent2",
		"timestamp": "2023-11-16T12:00:00Z", "numero_secuencia": 7, "extra": {"nested": [1, 2]}, "requiere_ack": "yes"}`
	env, err := Parse([]byte(raw))
	require.NoError(t, err)

	require.Equal(t, "INIT", env.Tipo())
	require.Equal(t, "1234", env.IDMensaje())
	require.Equal(t, json.Number("7"), env[FieldNumeroSecuencia])
	require.Equal(t, "yes", env[FieldRequiereAck], "values pass through without coercion")
	require.Contains(t, env, "extra")
	require.NotContains(t, env, FieldDatos, "parse must not add defaults")
	require.Len(t, env, 8)

	seq, ok := env.NumeroSecuencia()
	require.True(t, ok)
	require.EqualValues(t, 7, seq)
}

func TestParseMalformed(t *testing.T) {
	inputs := []string{
		`{"tipo": "INIT", "id_mensaje": "1234", "origen": "agent1", "destino": "agent2", "timestamp": "2023-11-16T12:00:00Z"`,
		``,
		`[1, 2, 3]`,
		`null`,
		`"tipo"`,
		`{"tipo": "INIT"} trailing`,
	}
	for _, raw := range inputs {
		env, err := Parse([]byte(raw))
		require.Nil(t, env, "input %q", raw)
		require.ErrorIs(t, err, ErrMalformedInput, "input %q", raw)
		require.NotErrorIs(t, err, ErrMissingFields)

		var malformed *MalformedInputError
		require.True(t, errors.As(err, &malformed))
		require.Equal(t, "json", malformed.Format)
	}
}

func TestParseMalformedCarriesDiagnostic(t *testing.T) {
	_, err := Parse([]byte(`{"tipo": }`))
	var syntax *json.SyntaxError
	require.ErrorAs(t, err, &syntax)
}

func TestParseMissingFields(t *testing.T) {
	env, err := Parse([]byte(`{"tipo": "INIT", "id_mensaje": "1234", "origen": "agent1"}`))
	require.Nil(t, env)
	require.ErrorIs(t, err, ErrMissingFields)

	var missing *MissingFieldsError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, []string{FieldDestino, FieldTimestamp}, missing.Fields)
	require.Contains(t, err.Error(), "destino, timestamp")
}

func TestParseEmptyObjectReportsAll(t *testing.T) {
	_, err := Parse([]byte(`{}`))
	var missing *MissingFieldsError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, RequiredFields, missing.Fields)
}

func TestParseAcceptsBuiltEnvelope(t *testing.T) {
	built := Build("INIT", "agent1", "agent2", WithDatos(map[string]any{"k": "v"}))
	raw, err := Encode(built)
	require.NoError(t, err)

	parsed, err := Parse(raw)
	require.NoError(t, err)
	require.Equal(t, built.IDMensaje(), parsed.IDMensaje())
	require.Equal(t, built.Timestamp(), parsed.Timestamp())
	require.Equal(t, map[string]any{"k": "v"}, parsed.Datos())
}

func TestBinaryEnvelope(t *testing.T) {
	built := Build("INIT", "agent1", "agent2", WithNumeroSecuencia(42))
	raw, err := EncodeBinary(built)
	require.NoError(t, err)

	parsed, err := ParseBinary(raw)
	require.NoError(t, err)
	require.Equal(t, built.IDMensaje(), parsed.IDMensaje())
	seq, ok := parsed.NumeroSecuencia()
	require.True(t, ok)
	require.EqualValues(t, 42, seq)

	partial, err := EncodeBinary(Envelope{FieldTipo: "INIT"})
	require.NoError(t, err)
	_, err = ParseBinary(partial)
	var missing *MissingFieldsError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, []string{FieldIDMensaje, FieldOrigen, FieldDestino, FieldTimestamp}, missing.Fields)

	_, err = ParseBinary([]byte{0xc1})
	require.ErrorIs(t, err, ErrMalformedInput)
}
