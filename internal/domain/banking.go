package domain

// BankResult is the effect of banking a surplus.
type BankResult struct {
	BankedAmount   float64 `json:"bankedAmount"`
	NewBankedTotal float64 `json:"newBankedTotal"`
}

// ApplyResult is the effect of applying banked surplus to a deficit.
type ApplyResult struct {
	AppliedAmount             float64 `json:"appliedAmount"`
	RemainingBankedAmount     float64 `json:"remainingBankedAmount"`
	AdjustedComplianceBalance float64 `json:"adjustedComplianceBalance"`
}

// BankSurplus validates banking amount (the whole balance when nil) out of
// a positive compliance balance on top of the current banked total.
func BankSurplus(current, balance float64, amount *float64) (BankResult, error) {
	if err := requireNonNegative(current, "Current banked amount"); err != nil {
		return BankResult{}, err
	}
	if !isFinite(balance) || balance <= 0 {
		return BankResult{}, validationf("Only positive compliance balance can be banked")
	}

	toBank := balance
	if amount != nil {
		toBank = *amount
	}
	if err := requireNonNegative(toBank, "Amount to bank"); err != nil {
		return BankResult{}, err
	}
	if toBank == 0 {
		return BankResult{}, validationf("Amount to bank must be greater than zero")
	}
	if toBank > balance {
		return BankResult{}, validationf("Cannot bank more than available surplus")
	}

	return BankResult{
		BankedAmount:   toBank,
		NewBankedTotal: current + toBank,
	}, nil
}

// ApplyBanked validates applying amount of the current banked total against
// a negative compliance balance.
func ApplyBanked(current, balance, amount float64) (ApplyResult, error) {
	if err := requireNonNegative(current, "Current banked amount"); err != nil {
		return ApplyResult{}, err
	}
	if err := requireNonNegative(amount, "Amount to apply"); err != nil {
		return ApplyResult{}, err
	}
	if amount == 0 {
		return ApplyResult{}, validationf("Amount to apply must be greater than zero")
	}
	if !isFinite(balance) || balance >= 0 {
		return ApplyResult{}, validationf("Banked amount can only be applied to a deficit")
	}
	if amount > current {
		return ApplyResult{}, validationf("Cannot apply more than banked amount")
	}
	if amount > -balance {
		return ApplyResult{}, validationf("Cannot apply more than the existing deficit")
	}

	return ApplyResult{
		AppliedAmount:             amount,
		RemainingBankedAmount:     current - amount,
		AdjustedComplianceBalance: balance + amount,
	}, nil
}
