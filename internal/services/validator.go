package services

import (
	"fmt"
	"time"

	"auction-livesync/internal/domain"
)

// ValidatorOptions are the tunable thresholds for bid validation. Zero
// values fall back to the defaults below.
type ValidatorOptions struct {
	EndingSoon         time.Duration
	EndingCritical     time.Duration
	MinBidSpacing      time.Duration
	FrequencyWindow    time.Duration
	FrequencyLimit     int
	LargeAmount        domain.Amount
	JumpPercent        float64
	BalanceWarnPercent float64
}

func (o *ValidatorOptions) applyDefaults() {
	if o.EndingSoon <= 0 {
		o.EndingSoon = 15 * time.Minute
	}
	if o.EndingCritical <= 0 {
		o.EndingCritical = 5 * time.Minute
	}
	if o.MinBidSpacing <= 0 {
		o.MinBidSpacing = 5 * time.Second
	}
	if o.FrequencyWindow <= 0 {
		o.FrequencyWindow = time.Minute
	}
	if o.FrequencyLimit <= 0 {
		o.FrequencyLimit = 10
	}
	if o.LargeAmount <= 0 {
		o.LargeAmount = 1_000_000 // $10,000
	}
	if o.JumpPercent <= 0 {
		o.JumpPercent = 50
	}
	if o.BalanceWarnPercent <= 0 {
		o.BalanceWarnPercent = 90
	}
}

// findings is one rule group's partial verdict.
type findings struct {
	errors      []string
	warnings    []string
	suggestions []string
	severity    domain.Severity
}

func (f *findings) addError(sev domain.Severity, msg string) {
	f.errors = append(f.errors, msg)
	f.raise(sev)
}

func (f *findings) addWarning(sev domain.Severity, msg string) {
	f.warnings = append(f.warnings, msg)
	f.raise(sev)
}

func (f *findings) addSuggestion(msg string) {
	f.suggestions = append(f.suggestions, msg)
}

func (f *findings) raise(sev domain.Severity) {
	if sev > f.severity {
		f.severity = sev
	}
}

// RuleValidator evaluates a proposed bid against the auction context.
// Pure: no I/O, no shared mutable state, identical inputs give
// structurally equal results.
type RuleValidator struct {
	opts ValidatorOptions
}

func NewRuleValidator(opts ValidatorOptions) *RuleValidator {
	opts.applyDefaults()
	return &RuleValidator{opts: opts}
}

func (v *RuleValidator) Validate(amount domain.Amount, vctx domain.ValidationContext) domain.ValidationResult {
	now := vctx.Now
	if now.IsZero() {
		now = time.Now()
	}

	groups := []findings{
		v.checkEligibility(amount, vctx, now),
		v.checkTiming(vctx, now),
		v.checkAmount(amount, vctx),
		v.checkBehavior(amount, vctx, now),
		v.checkFinancial(amount, vctx),
	}

	result := domain.ValidationResult{Severity: domain.SeverityLow}
	for _, g := range groups {
		result.Errors = append(result.Errors, g.errors...)
		result.Warnings = append(result.Warnings, g.warnings...)
		result.Suggestions = append(result.Suggestions, g.suggestions...)
		if g.severity > result.Severity {
			result.Severity = g.severity
		}
	}
	result.Errors = dedupe(result.Errors)
	result.Warnings = dedupe(result.Warnings)
	result.Suggestions = dedupe(result.Suggestions)
	result.IsValid = len(result.Errors) == 0
	return result
}

// checkEligibility rejects bids that can never be admissible. Every
// violation here is critical.
func (v *RuleValidator) checkEligibility(amount domain.Amount, vctx domain.ValidationContext, now time.Time) findings {
	var f findings

	if amount <= 0 {
		f.addError(domain.SeverityCritical, "bid amount must be positive")
	}
	if vctx.AuctionStatus != domain.AuctionActive {
		f.addError(domain.SeverityCritical,
			fmt.Sprintf("auction is not accepting bids (status: %s)", vctx.AuctionStatus))
	}
	if !vctx.AuctionStart.IsZero() && now.Before(vctx.AuctionStart) {
		f.addError(domain.SeverityCritical, "auction has not started yet")
	}
	if !vctx.AuctionEnd.IsZero() && now.After(vctx.AuctionEnd) {
		f.addError(domain.SeverityCritical, "auction has already ended")
	}
	if vctx.IsSellerBidding {
		f.addError(domain.SeverityCritical, "sellers cannot bid on their own auction")
	}
	return f
}

func (v *RuleValidator) checkTiming(vctx domain.ValidationContext, now time.Time) findings {
	var f findings

	if !vctx.AuctionEnd.IsZero() {
		remaining := vctx.AuctionEnd.Sub(now)
		if remaining > 0 {
			if remaining < v.opts.EndingCritical {
				f.addWarning(domain.SeverityHigh,
					fmt.Sprintf("auction is ending soon (under %s remaining)", v.opts.EndingCritical))
			} else if remaining < v.opts.EndingSoon {
				f.addWarning(domain.SeverityMedium,
					fmt.Sprintf("auction is ending soon (under %s remaining)", v.opts.EndingSoon))
			}
		}
	}

	if len(vctx.RecentBidTimes) > 0 {
		sinceLast := now.Sub(vctx.RecentBidTimes[0])
		if sinceLast >= 0 && sinceLast < v.opts.MinBidSpacing {
			f.addWarning(domain.SeverityMedium,
				fmt.Sprintf("you bid %s ago; wait at least %s between bids", sinceLast.Round(time.Millisecond), v.opts.MinBidSpacing))
		}
	}
	return f
}

func (v *RuleValidator) checkAmount(amount domain.Amount, vctx domain.ValidationContext) findings {
	var f findings

	increment := vctx.MinimumIncrement
	if increment <= 0 {
		increment = IncrementFor(vctx.CurrentHighestBid)
	}

	floor := vctx.CurrentHighestBid + increment
	if vctx.CurrentHighestBid == 0 && vctx.StartingBid > 0 {
		// No bids yet: the starting bid itself qualifies.
		floor = vctx.StartingBid
	}

	if amount < floor {
		f.addError(domain.SeverityHigh,
			fmt.Sprintf("minimum bid is %s (current bid %s plus increment %s)",
				formatAmount(floor), formatAmount(vctx.CurrentHighestBid), formatAmount(increment)))
		f.addSuggestion(fmt.Sprintf("bid %s to qualify", formatAmount(roundUp(floor, increment))))
	}

	if vctx.CurrentHighestBid > 0 && amount > vctx.CurrentHighestBid {
		increase := amount - vctx.CurrentHighestBid
		if percentOf(increase, vctx.CurrentHighestBid) > v.opts.JumpPercent {
			f.addWarning(domain.SeverityMedium,
				fmt.Sprintf("bid is more than %.0f%% above the current bid of %s",
					v.opts.JumpPercent, formatAmount(vctx.CurrentHighestBid)))
		}
	}

	if vctx.ReservePrice > 0 && amount >= vctx.ReservePrice {
		f.addWarning(domain.SeverityLow,
			fmt.Sprintf("this bid meets the reserve price of %s", formatAmount(vctx.ReservePrice)))
	}

	if amount >= v.opts.LargeAmount {
		f.addWarning(domain.SeverityMedium,
			fmt.Sprintf("bid exceeds the large-amount threshold of %s", formatAmount(v.opts.LargeAmount)))
	}

	if vctx.MaxBidLimit > 0 && amount > vctx.MaxBidLimit {
		f.addError(domain.SeverityHigh,
			fmt.Sprintf("bid exceeds your maximum bid limit of %s", formatAmount(vctx.MaxBidLimit)))
	}
	return f
}

func (v *RuleValidator) checkBehavior(amount domain.Amount, vctx domain.ValidationContext, now time.Time) findings {
	var f findings

	recent := 0
	for _, t := range vctx.RecentBidTimes {
		if now.Sub(t) <= v.opts.FrequencyWindow {
			recent++
		}
	}
	if recent >= v.opts.FrequencyLimit {
		f.addWarning(domain.SeverityMedium,
			fmt.Sprintf("you placed %d bids in the last %s; consider slowing down", recent, v.opts.FrequencyWindow))
	}

	if vctx.HoldsWinningBid && vctx.PreviousOwnBid > 0 && amount > vctx.PreviousOwnBid {
		raise := amount - vctx.PreviousOwnBid
		if percentOf(raise, vctx.PreviousOwnBid) > v.opts.JumpPercent {
			f.addSuggestion("you already hold the winning bid; consider setting a maximum bid instead of raising your own")
		}
	}
	return f
}

func (v *RuleValidator) checkFinancial(amount domain.Amount, vctx domain.ValidationContext) findings {
	var f findings

	if vctx.Balance <= 0 {
		return f
	}
	if amount > vctx.Balance {
		f.addError(domain.SeverityHigh,
			fmt.Sprintf("bid exceeds your available balance of %s", formatAmount(vctx.Balance)))
		return f
	}
	if percentOf(amount, vctx.Balance) >= v.opts.BalanceWarnPercent {
		f.addWarning(domain.SeverityMedium,
			fmt.Sprintf("bid would use most of your available balance of %s", formatAmount(vctx.Balance)))
	}
	return f
}

// IncrementFor derives the minimum increment from a magnitude-keyed
// step table: wider steps at higher amounts.
func IncrementFor(currentBid domain.Amount) domain.Amount {
	switch {
	case currentBid < 10_000: // < $100
		return 500
	case currentBid < 50_000: // < $500
		return 1_000
	case currentBid < 250_000: // < $2,500
		return 2_500
	case currentBid < 1_000_000: // < $10,000
		return 5_000
	default:
		return 10_000
	}
}

// percentOf computes part/whole as a percentage without floating
// error on the monetary operands.
func percentOf(part, whole domain.Amount) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}

// roundUp rounds an amount up to the next multiple of step.
func roundUp(amount, step domain.Amount) domain.Amount {
	if step <= 0 {
		return amount
	}
	if rem := amount % step; rem != 0 {
		return amount + step - rem
	}
	return amount
}

func formatAmount(cents domain.Amount) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}

func dedupe(messages []string) []string {
	if len(messages) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(messages))
	out := make([]string, 0, len(messages))
	for _, m := range messages {
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}
