package wren

// ObjClass is a name, a superclass link, the total field count
// (declared plus every ancestor's), and a dense method vector indexed
// by the global symbols symbol.go interns. Every class also has a
// metaclass: a class whose sole instance is the class itself, used to
// dispatch `static` methods the same way instance methods dispatch,
// through the same method-vector mechanism.
type ObjClass struct {
	objHeader
	id         int
	Name       string
	Superclass *ObjClass
	Metaclass  *ObjClass
	NumFields  int
	Methods    []method
	IsForeign  bool
	Attributes *ObjMap
}

func (*ObjClass) valueTypeName() string { return "Class" }

// classIDSeq assigns each class a small dense identity used only for
// hashing ObjClass as a Map key (value.go's hashValue); it carries no
// other meaning.
var classIDSeq int

func nextClassID() int {
	classIDSeq++
	return classIDSeq
}

// newClass builds a class with `numFields` additional fields beyond
// its superclass and binds it to `metaclass` for static dispatch.
// The method vector starts empty; bindMethod grows it as methods are
// bound.
func newClass(name string, superclass *ObjClass, numFields int, metaclass *ObjClass) *ObjClass {
	c := &ObjClass{
		id:         nextClassID(),
		Name:       name,
		Superclass: superclass,
	}
	c.Metaclass = metaclass
	if superclass != nil {
		c.NumFields = superclass.NumFields + numFields
	} else {
		c.NumFields = numFields
	}
	return c
}

// classOf is the object's own class, used for `instance of` and
// primitive dispatch on the class value itself (a class is a value
// too — it's an instance of its metaclass).
func (c *ObjClass) classOf() *ObjClass { return c.Metaclass }

// bindMethod installs fn as the implementation for symbol, growing
// the method vector if this class has never seen a symbol that high
// before. A later bind to the same symbol silently overrides the
// earlier one, matching the reference compiler's "last declaration
// wins" rule for duplicate method signatures in one class body.
func (c *ObjClass) bindMethod(symbol int, m method) {
	for len(c.Methods) <= symbol {
		c.Methods = append(c.Methods, method{kind: methodNone})
	}
	c.Methods[symbol] = m
}

// lookupMethod walks the superclass chain starting at c (including c
// itself) for the first class that binds symbol, implementing single
// inheritance method resolution.
func (c *ObjClass) lookupMethod(symbol int) (method, bool) {
	for cls := c; cls != nil; cls = cls.Superclass {
		if symbol < len(cls.Methods) && cls.Methods[symbol].kind != methodNone {
			return cls.Methods[symbol], true
		}
	}
	return method{}, false
}
