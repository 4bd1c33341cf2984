package stripe

import (
	"encoding/json"
	"fmt"

	"github.com/mihaimyh/gocredits/pkg/credits"
)

// Metadata keys written at checkout-session creation and read back from
// webhook events. user_id and plan_id are required for reconciliation;
// everything else is carried through opaquely.
const (
	metaUserID = "user_id"
	metaPlanID = "plan_id"
)

// idRef decodes Stripe's expandable references, which arrive either as a
// bare ID string or as an object carrying an "id" field.
type idRef string

func (r *idRef) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*r = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = idRef(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*r = idRef(obj.ID)
	return nil
}

// sessionPayload is the subset of checkout.session we reconcile on.
type sessionPayload struct {
	ID           string            `json:"id"`
	Mode         string            `json:"mode"`
	Subscription idRef             `json:"subscription"`
	Customer     idRef             `json:"customer"`
	Metadata     map[string]string `json:"metadata"`
}

// subscriptionPayload is the subset of customer.subscription we
// reconcile on.
type subscriptionPayload struct {
	ID                 string            `json:"id"`
	Status             string            `json:"status"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	Metadata           map[string]string `json:"metadata"`
	Items              struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

// priceID returns the subscription's first item price, or "".
func (p *subscriptionPayload) priceID() string {
	if len(p.Items.Data) == 0 {
		return ""
	}
	return p.Items.Data[0].Price.ID
}

// periodBounds returns the current billing period. Older API versions
// carry the bounds on the subscription object; newer ones moved them onto
// the items.
func (p *subscriptionPayload) periodBounds() (start, end int64) {
	start, end = p.CurrentPeriodStart, p.CurrentPeriodEnd
	if start == 0 && len(p.Items.Data) > 0 {
		start = p.Items.Data[0].CurrentPeriodStart
		end = p.Items.Data[0].CurrentPeriodEnd
	}
	return start, end
}

// invoicePayload is the subset of invoice we reconcile on.
type invoicePayload struct {
	ID           string `json:"id"`
	Subscription idRef  `json:"subscription"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription idRef `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

// subscriptionID handles both the classic top-level reference and the
// newer parent.subscription_details shape.
func (p *invoicePayload) subscriptionID() string {
	if p.Subscription != "" {
		return string(p.Subscription)
	}
	if p.Parent != nil && p.Parent.SubscriptionDetails != nil {
		return string(p.Parent.SubscriptionDetails.Subscription)
	}
	return ""
}

// mapStatus translates a Stripe subscription status into the local state
// machine. The second return is false for statuses with no local
// equivalent (incomplete, paused), which callers leave unchanged.
func mapStatus(s string) (credits.SubscriptionStatus, bool) {
	switch s {
	case "trialing":
		return credits.StatusTrialing, true
	case "active":
		return credits.StatusActive, true
	case "past_due", "unpaid":
		return credits.StatusPastDue, true
	case "canceled", "incomplete_expired":
		return credits.StatusCanceled, true
	default:
		return "", false
	}
}

func decodePayload(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", errBadEventData, err)
	}
	return nil
}
