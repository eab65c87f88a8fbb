package plan

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Parse reads the compact plan list used in environment variables:
//
//	month:30:180,quarter:90:450:Three months
//
// Each entry is id:days:price with an optional title.
func Parse(raw string) ([]Plan, error) {
	var plans []Plan
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 4)
		if len(parts) < 3 {
			return nil, fmt.Errorf("%w: entry %q must be id:days:price[:title]", ErrInvalidCatalog, entry)
		}
		days, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("%w: entry %q: days: %v", ErrInvalidCatalog, entry, err)
		}
		price, err := decimal.NewFromString(strings.TrimSpace(parts[2]))
		if err != nil {
			return nil, fmt.Errorf("%w: entry %q: price: %v", ErrInvalidCatalog, entry, err)
		}
		p := Plan{
			ID:           strings.TrimSpace(parts[0]),
			DurationDays: days,
			Price:        price,
		}
		if len(parts) == 4 {
			p.Title = strings.TrimSpace(parts[3])
		}
		plans = append(plans, p)
	}
	return plans, nil
}
