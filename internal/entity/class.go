package entity

import "fmt"

// Class is the universal structural class assigned to every entity.
type Class string

const (
	ClassPlace        Class = "place"
	ClassPerson       Class = "person"
	ClassOrganization Class = "organization"
	ClassEvent        Class = "event"
	ClassThing        Class = "thing"
)

// Classes lists every class in declaration order.
var Classes = []Class{ClassPlace, ClassPerson, ClassOrganization, ClassEvent, ClassThing}

// String returns the string representation of the class.
func (c Class) String() string {
	return string(c)
}

// IsValid reports whether c is one of the known classes.
func (c Class) IsValid() bool {
	switch c {
	case ClassPlace, ClassPerson, ClassOrganization, ClassEvent, ClassThing:
		return true
	}
	return false
}

// ParseClass parses a class name.
func ParseClass(s string) (Class, error) {
	c := Class(s)
	if !c.IsValid() {
		return "", fmt.Errorf("unknown entity class %q", s)
	}
	return c, nil
}
