package refspace

// ArgType tags one wire argument.
type ArgType string

const (
	// ArgValue marks an argument carried by structural copy
	ArgValue ArgType = "value"
	// ArgRef marks an argument carried as a capability descriptor
	ArgRef ArgType = "ref"
)

// ValueTypeStream marks a value argument that is tunneled on its own sub-channel.
const ValueTypeStream = "stream"

// Arg is one encoded call argument.
type Arg struct {
	Type  ArgType     `msgpack:"type"`
	Value any         `msgpack:"value,omitempty"`
	Ref   *Descriptor `msgpack:"ref,omitempty"`

	// ValueType and ValueID are set by transports that substitute
	// placeholders for values they carry out of band.
	ValueType string `msgpack:"valuetype,omitempty"`
	ValueID   string `msgpack:"valueid,omitempty"`
}

// ValueArg builds a value argument.
func ValueArg(v any) Arg {
	return Arg{Type: ArgValue, Value: v}
}

// RefArg builds a capability argument.
func RefArg(d *Descriptor) Arg {
	return Arg{Type: ArgRef, Ref: d}
}

// CallMessage is one call sent from a store to the peer owning Ref.
// A nil From means no reply is expected.
type CallMessage struct {
	Ref    Ref    `msgpack:"ref"`
	Method string `msgpack:"method,omitempty"`
	Args   []Arg  `msgpack:"args"`
	From   *Ref   `msgpack:"from,omitempty"`
}

// Clone returns a copy with its own argument slice.
func (m *CallMessage) Clone() *CallMessage {
	out := *m
	out.Args = append([]Arg(nil), m.Args...)
	if m.From != nil {
		from := *m.From
		out.From = &from
	}
	return &out
}

// Call carries the options of one dispatch.
type Call struct {
	// Method names the object method; empty for function calls
	Method string

	// Args are native argument values
	Args []any

	// From routes the outcome to an existing continuation instead of a new one
	From *Ref

	// NoReply suppresses correlation entirely (the wire's from:false)
	NoReply bool
}
