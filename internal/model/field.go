package model

// FieldType enumerates the typed field descriptors a document schema can
// declare (spec §3: "a mapping from field name to typed field descriptor
// with indexing options"). Tokenization and scoring are out of this
// system's scope (spec §1); field types here only drive parsing, timestamp
// extraction, and partition-key hashing.
type FieldType int

const (
	FieldText FieldType = iota
	FieldI64
	FieldU64
	FieldF64
	FieldBool
	FieldDateTime
	FieldBytes
)

func (t FieldType) String() string {
	switch t {
	case FieldI64:
		return "i64"
	case FieldU64:
		return "u64"
	case FieldF64:
		return "f64"
	case FieldBool:
		return "bool"
	case FieldDateTime:
		return "datetime"
	case FieldBytes:
		return "bytes"
	default:
		return "text"
	}
}

// FieldDescriptor is one entry in a document schema.
type FieldDescriptor struct {
	Name     string
	Type     FieldType
	Indexed  bool
	Stored   bool
	FastField bool // marks a fast field; the docmapper does not read it when picking the partition or timestamp field
	Required bool
}

// Schema is the document schema: field name -> descriptor.
type Schema map[string]FieldDescriptor
