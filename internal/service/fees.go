package service

const basisPointsDenominator = 10000

// FeeCalculator splits a reservation total into platform fee and owner net.
// Settlement and reporting share one instance so both always agree.
type FeeCalculator struct {
	rateBP int64
}

func NewFeeCalculator(rateBasisPoints int64) FeeCalculator {
	return FeeCalculator{rateBP: rateBasisPoints}
}

func (f FeeCalculator) RateBasisPoints() int64 {
	return f.rateBP
}

// Split rounds the fee half-up in minor units; net is always total - fee.
func (f FeeCalculator) Split(total int64) (fee, net int64) {
	if total <= 0 {
		return 0, total
	}
	fee = (total*f.rateBP + basisPointsDenominator/2) / basisPointsDenominator
	return fee, total - fee
}
