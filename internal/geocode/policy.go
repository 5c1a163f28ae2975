package geocode

import (
	"errors"
	"fmt"
)

// Policy decides how lookup outcomes other than "found" are shown.
type Policy struct {
	// Unknown is shown when the service has no address for the point.
	Unknown string
	// ServiceError formats the message returned by the service; %s is the message.
	ServiceError string
	// Unavailable is shown for every other failure.
	Unavailable string
}

// DefaultPolicy uses the French sentinels shown to users.
var DefaultPolicy = Policy{
	Unknown:      "Lieu inconnu",
	ServiceError: "Erreur de géolocalisation: %s",
	Unavailable:  "Impossible de récupérer la localisation",
}

// Describe converts a lookup result into a PlaceDescription.
func (p Policy) Describe(r Result) *PlaceDescription {
	switch r.Status {
	case StatusFound:
		place := *r.Place
		return &place
	case StatusAbsent:
		return &PlaceDescription{FullAddress: p.Unknown}
	}

	var geoErr *GeocodeError
	if errors.As(r.Err, &geoErr) && geoErr.ServiceMessage != "" {
		return &PlaceDescription{FullAddress: fmt.Sprintf(p.ServiceError, geoErr.ServiceMessage)}
	}
	return &PlaceDescription{FullAddress: p.Unavailable}
}
