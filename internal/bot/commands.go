package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"pricewatch/internal/pricing"
	"pricewatch/internal/tracker"
)

var (
	errMissingArgs = errors.New("missing arguments")
	errBadTarget   = errors.New("target price must be a positive number")
	errBadID       = errors.New("product id must be a positive number")
	errBadEmail    = errors.New("invalid email address")
)

var validate = validator.New()

// commandArgs returns the whitespace-separated words after the command.
// "/track@PriceBot url 500" yields ["url", "500"].
func commandArgs(text string) []string {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return fields
	}
	return fields[1:]
}

// parseTrackArgs reads "<url> [target]".
func parseTrackArgs(args []string) (string, *float64, error) {
	if len(args) == 0 {
		return "", nil, errMissingArgs
	}
	if len(args) == 1 {
		return args[0], nil, nil
	}
	raw := strings.NewReplacer(",", "", "₹", "", "$", "").Replace(args[1])
	target, err := strconv.ParseFloat(raw, 64)
	if err != nil || target <= 0 {
		return "", nil, errBadTarget
	}
	return args[0], &target, nil
}

func parseProductID(args []string) (uint64, error) {
	if len(args) == 0 {
		return 0, errMissingArgs
	}
	id, err := strconv.ParseUint(strings.TrimPrefix(args[0], "#"), 10, 64)
	if err != nil || id == 0 {
		return 0, errBadID
	}
	return id, nil
}

func parseEmail(args []string) (string, error) {
	if len(args) == 0 {
		return "", errMissingArgs
	}
	addr := args[0]
	if err := validate.Var(addr, "required,email,max=254"); err != nil {
		return "", fmt.Errorf("%w: %w", errBadEmail, err)
	}
	return addr, nil
}

// looksLikeURL reports whether a plain message should be treated as a
// product link.
func looksLikeURL(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	return strings.HasPrefix(t, "http://") || strings.HasPrefix(t, "https://")
}

func formatTracked(items []tracker.Tracked, price func(float64) string) string {
	if len(items) == 0 {
		return "You are not tracking any products yet. Send me a product link to start."
	}
	var b strings.Builder
	b.WriteString("Your tracked products:\n")
	for _, it := range items {
		fmt.Fprintf(&b, "\n#%d %s\n", it.Product.ID, it.Product.DisplayName())
		if it.Product.LastPrice != nil {
			fmt.Fprintf(&b, "  Price: %s\n", price(*it.Product.LastPrice))
		} else {
			b.WriteString("  Price: pending\n")
		}
		if it.Subscription.TargetPrice != nil {
			fmt.Fprintf(&b, "  Target: %s\n", price(*it.Subscription.TargetPrice))
		}
		if it.Subscription.Paused {
			b.WriteString("  Alerts paused\n")
		}
	}
	return b.String()
}

func formatInsight(in tracker.Insight, price func(float64) string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d %s\n", in.Product.ID, in.Product.DisplayName())
	if in.Product.LastPrice != nil {
		fmt.Fprintf(&b, "Current: %s\n", price(*in.Product.LastPrice))
	}
	if in.Stats.Checks > 0 {
		fmt.Fprintf(&b, "Lowest: %s  Highest: %s  Checks: %d\n", price(in.Stats.Lowest), price(in.Stats.Highest), in.Stats.Checks)
	}
	p := in.Prediction
	fmt.Fprintf(&b, "\nAdvice: %s (%s confidence)\n%s", recommendationLabel(p.Recommendation), p.Confidence, p.Reason)
	return b.String()
}

func recommendationLabel(r pricing.Recommendation) string {
	switch r {
	case pricing.RecommendBuy:
		return "BUY"
	case pricing.RecommendWait:
		return "WAIT"
	default:
		return "HOLD"
	}
}
