package schema

import (
	_ "embed"
	"fmt"
)

var (
	//go:embed base.yaml
	baseYAML []byte
	//go:embed prisma.yaml
	prismaYAML []byte
)

var builtins = map[string][]byte{
	"base":   baseYAML,
	"prisma": prismaYAML,
}

// Builtin returns an embedded schema document by name ("base" or "prisma").
func Builtin(name string, macros map[string]string) (Document, error) {
	data, ok := builtins[name]
	if !ok {
		return Document{}, fmt.Errorf("schema: unknown builtin document %q", name)
	}
	return Parse(name+".yaml", data, macros)
}

// Prisma returns the base scan document followed by the Prisma detector
// document, in declaration order.
func Prisma() ([]Document, error) {
	base, err := Builtin("base", nil)
	if err != nil {
		return nil, err
	}
	prisma, err := Builtin("prisma", nil)
	if err != nil {
		return nil, err
	}
	return []Document{base, prisma}, nil
}
