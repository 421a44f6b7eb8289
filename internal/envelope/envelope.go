// Package envelope builds and validates the message envelope exchanged between agents.
//
// An Envelope is a flat mapping keyed by wire-stable field names. Parsing is a validating
// pass-through: keys beyond the required set are kept verbatim and nothing is coerced or
// defaulted.
package envelope

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Wire-stable field names.
const (
	FieldTipo            = "tipo"
	FieldIDMensaje       = "id_mensaje"
	FieldOrigen          = "origen"
	FieldDestino         = "destino"
	FieldRespuestaA      = "respuesta_a"
	FieldTimestamp       = "timestamp"
	FieldIDSesion        = "id_sesion"
	FieldNumeroSecuencia = "numero_secuencia"
	FieldRequiereAck     = "requiere_ack"
	FieldDatos           = "datos"
)

// TimestampLayout is UTC, second precision, literal Z suffix.
const TimestampLayout = "2006-01-02T15:04:05Z"

// RequiredFields lists the keys every parsed envelope must carry, in report order.
var RequiredFields = []string{
	FieldTipo,
	FieldIDMensaje,
	FieldOrigen,
	FieldDestino,
	FieldTimestamp,
}

// Envelope is one application-level message.
type Envelope map[string]any

// Option customizes Build.
type Option func(*options)

type options struct {
	idMensaje       string
	respuestaA      *string
	idSesion        *string
	numeroSecuencia *int64
	requiereAck     bool
	datos           map[string]any
}

func WithIDMensaje(id string) Option {
	return func(o *options) { o.idMensaje = id }
}

func WithRespuestaA(id string) Option {
	return func(o *options) { o.respuestaA = &id }
}

func WithIDSesion(id string) Option {
	return func(o *options) { o.idSesion = &id }
}

func WithNumeroSecuencia(n int64) Option {
	return func(o *options) { o.numeroSecuencia = &n }
}

func WithRequiereAck(v bool) Option {
	return func(o *options) { o.requiereAck = v }
}

func WithDatos(datos map[string]any) Option {
	return func(o *options) { o.datos = datos }
}

// Build constructs an envelope stamped with the current UTC time. Callers supply
// non-empty tipo, origen and destino; Build does not check them.
func Build(tipo, origen, destino string, opts ...Option) Envelope {
	return buildAt(time.Now(), tipo, origen, destino, opts...)
}

func buildAt(now time.Time, tipo, origen, destino string, opts ...Option) Envelope {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.idMensaje == "" {
		o.idMensaje = uuid.NewString()
	}
	datos := o.datos
	if datos == nil {
		datos = map[string]any{}
	}

	env := Envelope{
		FieldTipo:            tipo,
		FieldIDMensaje:       o.idMensaje,
		FieldOrigen:          origen,
		FieldDestino:         destino,
		FieldRespuestaA:      nil,
		FieldTimestamp:       now.UTC().Format(TimestampLayout),
		FieldIDSesion:        nil,
		FieldNumeroSecuencia: nil,
		FieldRequiereAck:     o.requiereAck,
		FieldDatos:           datos,
	}
	if o.respuestaA != nil {
		env[FieldRespuestaA] = *o.respuestaA
	}
	if o.idSesion != nil {
		env[FieldIDSesion] = *o.idSesion
	}
	if o.numeroSecuencia != nil {
		env[FieldNumeroSecuencia] = *o.numeroSecuencia
	}
	return env
}

// Reply builds an envelope answering env: origin and destination swap and
// respuesta_a points at env's id. The session id carries over when present.
func Reply(env Envelope, tipo string, opts ...Option) Envelope {
	base := []Option{WithRespuestaA(env.IDMensaje())}
	if sid, ok := env.IDSesion(); ok {
		base = append(base, WithIDSesion(sid))
	}
	return Build(tipo, env.Destino(), env.Origen(), append(base, opts...)...)
}

func (e Envelope) str(key string) string {
	v, _ := e[key].(string)
	return v
}

func (e Envelope) optStr(key string) (string, bool) {
	v, ok := e[key].(string)
	return v, ok
}

func (e Envelope) Tipo() string      { return e.str(FieldTipo) }
func (e Envelope) IDMensaje() string { return e.str(FieldIDMensaje) }
func (e Envelope) Origen() string    { return e.str(FieldOrigen) }
func (e Envelope) Destino() string   { return e.str(FieldDestino) }
func (e Envelope) Timestamp() string { return e.str(FieldTimestamp) }

func (e Envelope) RespuestaA() (string, bool) { return e.optStr(FieldRespuestaA) }
func (e Envelope) IDSesion() (string, bool)   { return e.optStr(FieldIDSesion) }

// NumeroSecuencia reads the sequence hint whatever numeric form the decoder produced.
func (e Envelope) NumeroSecuencia() (int64, bool) {
	switch v := e[FieldNumeroSecuencia].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		return int64(v), true
	case float64:
		return int64(v), v == float64(int64(v))
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}

func (e Envelope) RequiereAck() bool {
	v, _ := e[FieldRequiereAck].(bool)
	return v
}

// Datos returns the payload mapping, or nil when absent or not a mapping.
func (e Envelope) Datos() map[string]any {
	switch v := e[FieldDatos].(type) {
	case map[string]any:
		return v
	case Envelope:
		return v
	default:
		return nil
	}
}
