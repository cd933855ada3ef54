// Package amf3 implements the AMF3 encoding with its string, object and
// trait reference tables.
package amf3

// Integers outside [MinInt, MaxInt] are encoded as doubles.
const MaxInt int = 268435455
const MinInt int = -268435456

// MaxU29 is the largest value a U29 can carry.
const MaxU29 uint32 = 0x1FFFFFFF

const UTF8Empty byte = 0x01

const (
	TypeUndefined    byte = 0x00
	TypeNull         byte = 0x01
	TypeFalse        byte = 0x02
	TypeTrue         byte = 0x03
	TypeInteger      byte = 0x04
	TypeDouble       byte = 0x05
	TypeString       byte = 0x06
	TypeXmlDoc       byte = 0x07
	TypeDate         byte = 0x08
	TypeArray        byte = 0x09
	TypeObject       byte = 0x0A
	TypeXml          byte = 0x0B
	TypeByteArray    byte = 0x0C
	TypeVectorInt    byte = 0x0D
	TypeVectorUint   byte = 0x0E
	TypeVectorDouble byte = 0x0F
	TypeVectorObject byte = 0x10
	TypeDictionary   byte = 0x11
)

// Object header flags that follow the inline bit.
const (
	flagInline         = 0x01
	flagInlineTraits   = 0x02
	flagExternalizable = 0x04
	flagDynamic        = 0x08
)

// traits describes the shape of an object. One traits value is shared by
// every object of that shape within a decode context.
type traits struct {
	className      string
	dynamic        bool
	externalizable bool
	members        []string
}

func (t *traits) key() string {
	k := make([]byte, 0, 32)
	k = append(k, t.className...)
	k = append(k, 0)
	if t.dynamic {
		k = append(k, 'd')
	}
	if t.externalizable {
		k = append(k, 'e')
	}
	for _, m := range t.members {
		k = append(k, 0)
		k = append(k, m...)
	}
	return string(k)
}
