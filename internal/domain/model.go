package domain

// AIModel carries the pricing metadata of one provider model.
type AIModel struct {
	ModelID     string
	DisplayName string
	CreditCost  *int
	CostPro     *int
	CostPro5s   *int
	CostPro10s  *int
	IsFreePro5s bool
}

// Cost returns the credit price of a job with the given duration. The first
// positive value wins: free 5s flag, then the duration-specific price, then
// the generic price, then the legacy flat price (doubled for long clips).
func (m AIModel) Cost(duration string) int {
	base := positive(m.CreditCost)
	if duration == "5" {
		if m.IsFreePro5s {
			return 0
		}
		return first(positive(m.CostPro5s), positive(m.CostPro), base)
	}
	return first(positive(m.CostPro10s), positive(m.CostPro), base*2)
}

func positive(v *int) int {
	if v == nil || *v < 0 {
		return 0
	}
	return *v
}

func first(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
