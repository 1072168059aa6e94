package tally

import (
	"fmt"
	"strings"
)

// Company identifies the Tally company a request is routed to.
type Company struct {
	LocationID string `json:"location_id"`
	GUID       string `json:"guid"`
	Name       string `json:"name"`
}

// Valid reports whether every routing field is populated.
func (c Company) Valid() bool {
	return c.LocationID != "" && c.GUID != "" && c.Name != ""
}

// CompanyList is the envconfig representation of configured companies,
// written as `locid|guid|name` entries separated by semicolons.
type CompanyList []Company

// Decode implements envconfig.Decoder.
func (l *CompanyList) Decode(value string) error {
	var out CompanyList
	for _, entry := range strings.Split(value, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "|", 3)
		if len(parts) != 3 {
			return fmt.Errorf("tally: company entry %q must be locid|guid|name", entry)
		}
		c := Company{
			LocationID: strings.TrimSpace(parts[0]),
			GUID:       strings.TrimSpace(parts[1]),
			Name:       strings.TrimSpace(parts[2]),
		}
		if !c.Valid() {
			return fmt.Errorf("tally: company entry %q has empty fields", entry)
		}
		out = append(out, c)
	}
	*l = out
	return nil
}

// ByGUID finds a configured company.
func (l CompanyList) ByGUID(guid string) (Company, bool) {
	for _, c := range l {
		if c.GUID == guid {
			return c, true
		}
	}
	return Company{}, false
}
