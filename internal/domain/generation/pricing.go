package generation

// Pricing maps a model id to its credit cost per generation
type Pricing map[string]int64

// DefaultPricing is the static model catalog. New models must be added here
// before the API will accept them.
var DefaultPricing = Pricing{
	"luma-turbo":    1,
	"luma-standard": 2,
	"luma-ultra":    4,
}

// Cost returns the credit cost for a model id and whether the model is known
func (p Pricing) Cost(modelID string) (int64, bool) {
	cost, ok := p[modelID]
	return cost, ok
}
