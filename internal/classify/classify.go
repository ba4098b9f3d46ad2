// Package classify assigns the universal structural class of an entity.
package classify

import "canon/internal/entity"

// Classify evaluates a fixed-priority decision tree over structural fields
// only: a time range makes an event, a geographic anchor a place, group
// membership an organization, personal name parts a person. Everything
// else is a thing.
func Classify(e entity.ExtractedEntity) entity.Class {
	switch {
	case e.TimeRange != nil && !e.TimeRange.IsZero():
		return entity.ClassEvent
	case hasGeoAnchor(e):
		return entity.ClassPlace
	case e.MemberCount != nil || len(e.Members) > 0:
		return entity.ClassOrganization
	case e.GivenName != "" || e.FamilyName != "":
		return entity.ClassPerson
	default:
		return entity.ClassThing
	}
}

func hasGeoAnchor(e entity.ExtractedEntity) bool {
	return e.Coordinates != nil ||
		e.Address.Street != "" ||
		e.Address.City != "" ||
		e.Address.Postcode != ""
}
