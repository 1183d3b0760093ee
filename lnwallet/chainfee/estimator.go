package chainfee

// Estimator is the source of the fee rate new channels are opened with.
type Estimator interface {
	// EstimateFeePerKW returns the fee rate in sat/kw expected to confirm
	// a transaction within numBlocks blocks.
	EstimateFeePerKW(numBlocks uint32) (SatPerKWeight, error)

	// Start is called once before the first estimate is requested.
	Start() error

	// Stop releases any resources held by the estimator.
	Stop() error

	// RelayFeePerKW returns the lowest fee rate our backend relays. No
	// funding transaction is built below it.
	RelayFeePerKW() SatPerKWeight
}

// StaticEstimator answers every request with the same fee rate. It is used
// on regtest and in tests.
type StaticEstimator struct {
	feePerKW SatPerKWeight
	relayFee SatPerKWeight
}

// NewStaticEstimator returns an estimator that always reports feePerKW and
// relays anything paying at least relayFee.
func NewStaticEstimator(feePerKW, relayFee SatPerKWeight) *StaticEstimator {
	return &StaticEstimator{
		feePerKW: feePerKW,
		relayFee: relayFee,
	}
}

// EstimateFeePerKW returns the static fee rate regardless of the target.
//
// NOTE: This method is part of the Estimator interface.
func (e StaticEstimator) EstimateFeePerKW(_ uint32) (SatPerKWeight, error) {
	return e.feePerKW, nil
}

// RelayFeePerKW returns the static relay fee.
//
// NOTE: This method is part of the Estimator interface.
func (e StaticEstimator) RelayFeePerKW() SatPerKWeight {
	return e.relayFee
}

// Start is a no-op.
//
// NOTE: This method is part of the Estimator interface.
func (e StaticEstimator) Start() error {
	return nil
}

// Stop is a no-op.
//
// NOTE: This method is part of the Estimator interface.
func (e StaticEstimator) Stop() error {
	return nil
}

var _ Estimator = (*StaticEstimator)(nil)
