package authority

import (
	"strings"

	"road-damage-reporting/services/report-service/models"
)

// Jurisdiction mapping is keyword-based. A geospatial lookup would replace
// this, but address keywords are what dispatchers key off today.
var (
	stateDOT = models.Authority{
		Name:       "State Department of Transportation",
		Contact:    "dot@state.gov",
		Department: "Highway Maintenance",
	}
	countyPublicWorks = models.Authority{
		Name:       "County Public Works",
		Contact:    "countypw@county.gov",
		Department: "Road Maintenance",
	}
	cityPublicWorks = models.Authority{
		Name:       "City Public Works Department",
		Contact:    "publicworks@city.gov",
		Department: "Infrastructure Maintenance",
	}
)

// Resolver maps a location to the responsible authority. Resolution is
// deterministic and total; it always yields a value.
type Resolver struct{}

func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve inspects the address for jurisdiction keywords. Highway and
// interstate take precedence over county; everything else, including a
// missing address, falls back to the city department.
func (r *Resolver) Resolve(loc models.Location) models.Authority {
	address := strings.ToLower(loc.Address)

	if strings.Contains(address, "highway") || strings.Contains(address, "interstate") {
		return stateDOT
	}
	if strings.Contains(address, "county") {
		return countyPublicWorks
	}
	return cityPublicWorks
}
